package domain

const (
	// Content gateway constants
	DEFAULT_CONTENT_GATEWAY = "https://gateway.pinata.cloud"

	// Blockchain constants
	ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"
)
