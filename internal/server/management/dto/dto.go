package dto

import "time"

// HealthResponse reports whether the runtime is up
type HealthResponse struct {
	Status     string `json:"status" example:"healthy"`
	Service    string `json:"service" example:"conduit"`
	Routes     int    `json:"routes" example:"3"`
	Components int    `json:"components" example:"18"`
}

// RouteResponse is a snapshot of a route
type RouteResponse struct {
	ID                string        `json:"id" example:"orders"`
	From              string        `json:"from" example:"direct:orders"`
	Status            string        `json:"status" example:"Started"`
	AutoStartup       bool          `json:"autoStartup" example:"true"`
	ExchangesTotal    int64         `json:"exchangesTotal" example:"42"`
	ExchangesFailed   int64         `json:"exchangesFailed" example:"1"`
	ExchangesInflight int64         `json:"exchangesInflight" example:"0"`
	Uptime            time.Duration `json:"uptime" swaggertype:"integer" example:"1500000000"`
}

// RouteActionResponse is returned after starting or stopping a route
type RouteActionResponse struct {
	ID     string `json:"id" example:"orders"`
	Status string `json:"status" example:"Stopped"`
}

// SendRequest delivers a message to an endpoint
type SendRequest struct {
	URI     string         `json:"uri" validate:"required" example:"direct:orders"`
	Body    any            `json:"body"`
	Headers map[string]any `json:"headers"`
	// Pattern is InOnly (default) or InOut.
	Pattern string `json:"pattern" validate:"omitempty,oneof=InOnly InOut" example:"InOut"`
}

// SendResponse carries the exchange after delivery
type SendResponse struct {
	ExchangeID string         `json:"exchangeId" example:"0190f6a8-8c2e-7b7e-9c53-2f7d2b1e4a10"`
	Pattern    string         `json:"pattern" example:"InOut"`
	Body       any            `json:"body"`
	Headers    map[string]any `json:"headers"`
}
