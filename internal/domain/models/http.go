package models

// HTTP request models for the exposed engine API. Binding, defaults, and
// validation go through pkg/http.ReadAndValidateRequest.

type RegimeRequest struct {
	Symbol string `query:"symbol" validate:"required"`
}

type ParametersRequest struct {
	Strategy string `query:"strategy" validate:"required"`
}

type SafetyRequest struct {
	Key string `query:"key" validate:"required"` // symbol or strategy name
}

type AdaptationsRequest struct {
	Strategy string `query:"strategy" validate:"required"`
	Limit    int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type ActivationsRequest struct {
	Key        string `query:"key" validate:"required"` // symbol or strategy name
	ActiveOnly bool   `query:"active" default:"false"`
	Limit      int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SizeRequest struct {
	Strategy string `query:"strategy" validate:"required"`
	Symbol   string `query:"symbol" validate:"required"`
}

type SnapshotsRequest struct {
	Symbol string `query:"symbol" validate:"required"`
	From   string `query:"from"`
	To     string `query:"to"`
}
