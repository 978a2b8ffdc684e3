package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonLLMClassify  ReasonCode = "llm_classify"
	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMExtract   ReasonCode = "llm_extract"
	ReasonLLMRewrite   ReasonCode = "llm_rewrite"
	ReasonLLMSentiment ReasonCode = "llm_sentiment"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	ReasonStoreRead       ReasonCode = "store_read"
	ReasonStoreWrite      ReasonCode = "store_write"
	ReasonSessionNotFound ReasonCode = "session_not_found"
	ReasonCacheBackend    ReasonCode = "cache_backend"

	ReasonOrderParse      ReasonCode = "order_parse"
	ReasonKnowledgeLookup ReasonCode = "knowledge_lookup"
	ReasonTurnPanic       ReasonCode = "turn_panic"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTelephonyUpdate           ReasonCode = "telephony_update"
)
