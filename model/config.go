package model

// NetworkConfig is the deployed topology resolved from the infrastructure
// description: where the chain is, which contract account to drive, and who
// the participants are.
type NetworkConfig struct {
	RPCURL       string          `json:"rpc_url"`
	NetworkID    string          `json:"network_id"`
	ContractID   string          `json:"contract_id"`
	Participants ParticipantList `json:"participants"`
}
