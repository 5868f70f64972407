package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for AppendStageRequest: proof is a
	// proof-of-delivery and only accompanies a delivered stage.
	v.RegisterStructValidation(appendStageStructValidation, AppendStageRequest{})

	return v
}

func appendStageStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(AppendStageRequest)

	if req.Proof != nil && req.Stage != "delivered" {
		sl.ReportError(req.Proof, "proof", "Proof", "proof_requires_delivered", req.Stage)
	}
}
