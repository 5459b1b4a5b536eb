package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID  string `json:"sessionId"`
	Text       string `json:"text"`
	Voice      string `json:"voice"`      // 目标声音
	Format     string `json:"format"`     // pcm
	SampleRate int    `json:"sampleRate"` // 24000
	Language   string `json:"language"`
}
