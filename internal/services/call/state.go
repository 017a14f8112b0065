package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicebothq/voicebot-service/internal/domain"
	"github.com/voicebothq/voicebot-service/pkg/redis"
)

// ConversationState is the hot per-call state kept in Redis for the
// lifetime of a live call. The durable record lives in Postgres; losing
// this state mid-call degrades the conversation, it never loses the call.
type ConversationState struct {
	BusinessID       string                    `json:"business_id"`
	BusinessName     string                    `json:"business_name"`
	CallerNumber     string                    `json:"caller_number"`
	Personality      string                    `json:"personality"`
	CallerHistory    []domain.CallSummary      `json:"caller_history"`
	Turns            []domain.ConversationEntry `json:"turns"`
	BackboneFailures int                       `json:"backbone_failures"`
	StartedAt        time.Time                 `json:"started_at"`
}

// AddTurn appends one utterance to the in-flight transcript
func (s *ConversationState) AddTurn(speaker, text string) {
	s.Turns = append(s.Turns, domain.ConversationEntry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
}

// StateStore persists live conversation state keyed by provider call SID
type StateStore interface {
	Load(ctx context.Context, callSID string) (*ConversationState, error)
	Save(ctx context.Context, callSID string, state *ConversationState) error
	Delete(ctx context.Context, callSID string) error
}

// NoopStateStore is used when Redis is unavailable. Every turn rebuilds
// the session from the durable record.
type NoopStateStore struct{}

func (NoopStateStore) Load(ctx context.Context, callSID string) (*ConversationState, error) {
	return nil, domain.ErrSessionExpired
}

func (NoopStateStore) Save(ctx context.Context, callSID string, state *ConversationState) error {
	return nil
}

func (NoopStateStore) Delete(ctx context.Context, callSID string) error {
	return nil
}

type redisStateStore struct {
	redisService redis.RedisServiceInterface
	ttl          time.Duration
}

func NewRedisStateStore(redisService redis.RedisServiceInterface, ttl time.Duration) StateStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &redisStateStore{redisService: redisService, ttl: ttl}
}

func (r *redisStateStore) Load(ctx context.Context, callSID string) (*ConversationState, error) {
	key := r.redisService.GenerateKey(redis.CONVERSATION_STATE, callSID)
	val, err := r.redisService.GetValue(ctx, key)
	if err == redis.ErrKeyNotExist {
		return nil, domain.ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}

	var state ConversationState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	return &state, nil
}

func (r *redisStateStore) Save(ctx context.Context, callSID string, state *ConversationState) error {
	key := r.redisService.GenerateKey(redis.CONVERSATION_STATE, callSID)
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}
	return r.redisService.SetValue(ctx, key, string(payload), r.ttl)
}

func (r *redisStateStore) Delete(ctx context.Context, callSID string) error {
	key := r.redisService.GenerateKey(redis.CONVERSATION_STATE, callSID)
	return r.redisService.DelValue(ctx, key)
}
