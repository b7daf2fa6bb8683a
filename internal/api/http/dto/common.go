package dto

type HealthResponse struct {
	Status string `json:"status"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}
