package speech

// SpeechConfig 语音合成服务配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID       string `json:"appId"`            // 火山引擎 APP ID
	AccessToken string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey      string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	Endpoint    string `json:"endpoint"`         // 单向流式 TTS 地址
	ResourceID  string `json:"resourceId"`       // 为空时按声音自动推断

	// TTS 配置
	TTSVoice    string `json:"ttsVoice"` // 兜底声音
	TTSLanguage string `json:"ttsLanguage"`
	SampleRate  int    `json:"sampleRate"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}
