package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	speechmodel "github.com/zhouzirui/astra/backend/internal/model/speech"
)

// DefaultEndpoint 火山引擎单向流式 TTS 地址。
const DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// ErrEmptyAudio 表示服务端正常结束但没有返回音频。
var ErrEmptyAudio = errors.New("TTS audio is empty")

// VolcengineTTSClient 火山引擎TTS WebSocket客户端
type VolcengineTTSClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	logger zerolog.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig, logger zerolog.Logger) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		logger: logger,
	}
}

// SynthesizeSpeechWS 合成整段音频。音色与资源 ID 不匹配时依次尝试候选组合。
func (c *VolcengineTTSClient) SynthesizeSpeechWS(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}

	appKey, accessKey, err := c.credentials()
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSpace(c.config.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	speakers := resolveTTSSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastMismatch error

	for _, speaker := range speakers {
		resources := resolveTTSResourceCandidates(speaker)
		if fixed := strings.TrimSpace(c.config.ResourceID); fixed != "" {
			resources = []string{fixed}
		}

		for idx, resourceID := range resources {
			resp, attemptErr := c.synthesizeWithResource(ctx, endpoint, req, appKey, accessKey, speaker, resourceID)
			if attemptErr == nil {
				if idx > 0 || speaker != speakers[0] {
					c.logger.Info().Str("speaker", speaker).Str("resource", resourceID).Msg("fallback speaker/resource succeeded")
				}
				return resp, nil
			}

			if !isResourceMismatchError(attemptErr) {
				return nil, attemptErr
			}
			c.logger.Warn().Err(attemptErr).Str("speaker", speaker).Str("resource", resourceID).Msg("resource mismatch")
			lastMismatch = attemptErr
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("TTS synthesis failed: no compatible resource id for speakers %v", speakers)
}

func (c *VolcengineTTSClient) synthesizeWithResource(
	ctx context.Context,
	endpoint string,
	req *speechmodel.TTSRequest,
	appKey, accessKey, speaker, resourceID string,
) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS WebSocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			c.logger.Debug().Str("logid", logid).Msg("tts connected")
		}
	}

	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	ttsReq, userUID := c.buildTTSRequest(req, speaker)
	payload, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	request, err := newClientRequest(payload, compressionNone)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, request.encode()); err != nil {
		return nil, fmt.Errorf("failed to send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read TTS response: %w", err)
		}

		msg, err := decodeFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode TTS message: %w", err)
		}

		body, err := msg.body()
		if err != nil {
			return nil, fmt.Errorf("failed to decompress TTS payload: %w", err)
		}

		switch msg.Type {
		case frameError:
			return nil, fmt.Errorf("TTS error %d: %s", msg.ErrorCode, string(body))

		case frameAudioOnlyResponse:
			audio.Write(body)

		case frameFullServerResponse:
			var serverResp ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &serverResp); err != nil {
					c.logger.Debug().Err(err).Msg("unparsable server payload")
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.ReqID != "" {
						reqID = serverResp.ReqID
					}
					if ms, err := strconv.ParseInt(serverResp.Addition.Duration, 10, 64); err == nil {
						duration = ms
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return nil, fmt.Errorf("failed to decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (msg.hasEvent() && msg.Event == eventSessionFinished) || msg.isLast() || serverResp.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, ErrEmptyAudio
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speechmodel.TTSResponse{
				SessionID: userUID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    ttsReq.ReqParams.AudioParams.Format,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil

		default:
			c.logger.Debug().Uint8("type", uint8(msg.Type)).Msg("unexpected TTS frame")
		}
	}
}

func (c *VolcengineTTSClient) buildTTSRequest(req *speechmodel.TTSRequest, speaker string) (*volcengineTTSRequest, string) {
	ttsReq := &volcengineTTSRequest{}

	userUID := strings.TrimSpace(req.SessionID)
	if userUID == "" {
		userUID = uuid.NewString()
	}
	ttsReq.User.UID = userUID
	ttsReq.ReqParams.Speaker = speaker
	ttsReq.ReqParams.Text = req.Text

	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = "pcm"
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = c.config.SampleRate
	}
	if rate <= 0 {
		rate = 24000
	}
	ttsReq.ReqParams.AudioParams = volcengineTTSAudioParams{Format: format, SampleRate: rate}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.TTSLanguage)
	}
	ttsReq.ReqParams.Language = language

	return ttsReq, userUID
}

// credentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func (c *VolcengineTTSClient) credentials() (string, string, error) {
	if c.config == nil {
		return "", "", fmt.Errorf("火山引擎语音配置未初始化")
	}

	appID := strings.TrimSpace(c.config.AppID)
	token := strings.TrimSpace(c.config.AccessToken)
	if token == "" {
		token = strings.TrimSpace(c.config.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", fmt.Errorf("火山引擎语音配置缺少 AppID 或 AccessToken")
	}
	return appID, token, nil
}

func (c *VolcengineTTSClient) timeout() time.Duration {
	if c.config != nil && c.config.Timeout > 0 {
		return time.Duration(c.config.Timeout) * time.Second
	}
	return 30 * time.Second
}

// speakerAliases 把角色表里的通用音色名映射到火山引擎音色。
var speakerAliases = map[string]string{
	"puck":   "en_male_corey_emo_v2_mars_bigtts",
	"kore":   "en_female_candice_emo_v2_mars_bigtts",
	"charon": "en_male_glen_emo_v2_mars_bigtts",
	"zephyr": "en_female_skye_emo_v2_mars_bigtts",
	"fenrir": "en_male_sylus_emo_v2_mars_bigtts",
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := speakerAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)

	if len(candidates) == 0 {
		return []string{""}
	}
	return candidates
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
