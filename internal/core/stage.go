package core

// Stage is one step of the provisioning state machine. Stages advance
// strictly in the order listed; the enumeration is part of the public
// polling contract.
type Stage string

const (
	StageCreating   Stage = "creating"
	StageNetworking Stage = "networking"
	StageSecrets    Stage = "secrets"
	StageMachine    Stage = "machine"
	StageBooting    Stage = "booting"
	StageHealth     Stage = "health"
	StageComplete   Stage = "complete"
)

// Stages lists the provisioning stages in order.
var Stages = []Stage{
	StageCreating,
	StageNetworking,
	StageSecrets,
	StageMachine,
	StageBooting,
	StageHealth,
	StageComplete,
}
