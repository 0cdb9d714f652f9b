package core

// ScalingDecision is the synchronous result of an auto-scale evaluation.
// A declined scale is a normal return value, not an error; Reason says why.
type ScalingDecision struct {
	Scaled      bool   `json:"scaled"`
	Reason      string `json:"reason,omitempty"`
	CurrentTier string `json:"current_tier"`
	TargetTier  string `json:"target_tier,omitempty"`
}
