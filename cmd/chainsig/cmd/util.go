package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
)

func writeJSON(path string, data interface{}) {
	bz, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot marshal json")
	}
	writeFile(path, bz)
}

func writeFile(path string, data []byte) {
	path = filepath.Join(flagOutdir, path)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create output dir")
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		log.Fatal().Err(err).Msg("could not write file")
	}

	log.Info().Msgf("wrote file %v", path)
}

// readFileIfExists returns nil when the file is absent.
func readFileIfExists(path string) []byte {
	data, err := os.ReadFile(filepath.Join(flagOutdir, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Fatal().Err(err).Msgf("cannot read %s", path)
	}
	return data
}
