package modelapi

const (
	DEFAULT_MODEL_NAME = "mistral"
	OLLAMA_BASE_URL    = "http://localhost:11434/v1"
)

const (
	DEEPGRAM_MODEL    = "nova-3"
	DEEPGRAM_LANGUAGE = "en"
)

// Audio handed to speech-to-text is always 16 kHz mono WAV.
const (
	CANONICAL_AUDIO_EXT         = ".wav"
	CANONICAL_AUDIO_SAMPLE_RATE = "16000"
	CANONICAL_AUDIO_CHANNELS    = "1"
)
