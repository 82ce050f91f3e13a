package erpsync

// HTTP header vocabulary of the sync protocol
const (
	HeaderTenantID          = "X-Tenant-Id"
	HeaderCorrelationID     = "X-Correlation-Id"
	HeaderWatermark         = "X-Watermark"
	HeaderContinuationToken = "X-Continuation-Token"
	HeaderTotalCount        = "X-Total-Count"
	HeaderChunkNumber       = "X-Chunk-Number"
	HeaderHasMore           = "X-Has-More"
	HeaderContentChecksum   = "X-Content-Checksum"
	HeaderAPIVersion        = "X-Api-Version"
	HeaderAPIKey            = "X-Api-Key"
)

// APIVersion is the protocol version sent in X-Api-Version
const APIVersion = "1.0"

// ContentTypeJSONLines is the media type of chunked streams
const ContentTypeJSONLines = "application/x-ndjson"
