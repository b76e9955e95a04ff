package infrastructure

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/draftea/saga-system/shared/models"
	"github.com/draftea/saga-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	runKeyPrefix          = "saga:run:"
	choreographyKeyPrefix = "saga:choreo:"
	transitionsKeyPrefix  = "saga:transitions:"
	activeIndexKey        = "saga:active"
	completedIndexKey     = "saga:completed"

	// DefaultRetention is how long closed sagas stay queryable
	DefaultRetention = 24 * time.Hour
)

var _ saga.StateStore = (*RedisStateStore)(nil)

// RedisStateStore keeps saga records as JSON documents. Writes are
// conditional on the stored version, checked under WATCH.
type RedisStateStore struct {
	client    *redis.Client
	retention time.Duration
	logger    zerolog.Logger
}

// NewRedisStateStore creates a store; a non-positive retention uses DefaultRetention
func NewRedisStateStore(client *redis.Client, retention time.Duration, logger zerolog.Logger) *RedisStateStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStateStore{
		client:    client,
		retention: retention,
		logger:    logger.With().Str("component", "redis_state_store").Logger(),
	}
}

func runKey(id models.ID) string          { return runKeyPrefix + id.String() }
func choreographyKey(id models.ID) string { return choreographyKeyPrefix + id.String() }
func transitionsKey(id models.ID) string  { return transitionsKeyPrefix + id.String() }

// CreateRun stores a new run with version 1
func (s *RedisStateStore) CreateRun(ctx context.Context, run *saga.Run) error {
	run.Version = 1
	return s.create(ctx, runKey(run.SagaID), run)
}

// SaveRun writes the run if nobody else saved it since it was read
func (s *RedisStateStore) SaveRun(ctx context.Context, run *saga.Run) error {
	extra := []string{transitionsKey(run.SagaID)}
	return s.save(ctx, runKey(run.SagaID), &run.Version, run.IsClosed(), extra, func() ([]byte, error) {
		return json.Marshal(run)
	})
}

// GetRun loads a run
func (s *RedisStateStore) GetRun(ctx context.Context, sagaID models.ID) (*saga.Run, error) {
	var run saga.Run
	if err := s.load(ctx, runKey(sagaID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// AppendTransition pushes to the saga's transition list
func (s *RedisStateStore) AppendTransition(ctx context.Context, transition *saga.Transition) error {
	raw, err := json.Marshal(transition)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transition")
	}
	if err := s.client.RPush(ctx, transitionsKey(transition.SagaID), raw).Err(); err != nil {
		return errors.Wrapf(err, "failed to append transition for saga %s", transition.SagaID)
	}
	return nil
}

// GetTransitions returns the transitions in append order
func (s *RedisStateStore) GetTransitions(ctx context.Context, sagaID models.ID) ([]*saga.Transition, error) {
	values, err := s.client.LRange(ctx, transitionsKey(sagaID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read transitions for saga %s", sagaID)
	}

	transitions := make([]*saga.Transition, 0, len(values))
	for _, value := range values {
		var t saga.Transition
		if err := json.Unmarshal([]byte(value), &t); err != nil {
			return nil, errors.Wrapf(err, "corrupt transition for saga %s", sagaID)
		}
		transitions = append(transitions, &t)
	}
	return transitions, nil
}

// CreateChoreography stores a new choreographed state with version 1
func (s *RedisStateStore) CreateChoreography(ctx context.Context, state *saga.ChoreographedState) error {
	state.Version = 1
	return s.create(ctx, choreographyKey(state.SagaID), state)
}

// SaveChoreography writes the state if nobody else saved it since it was read
func (s *RedisStateStore) SaveChoreography(ctx context.Context, state *saga.ChoreographedState) error {
	return s.save(ctx, choreographyKey(state.SagaID), &state.Version, state.IsClosed(), nil, func() ([]byte, error) {
		return json.Marshal(state)
	})
}

// GetChoreography loads a choreographed state
func (s *RedisStateStore) GetChoreography(ctx context.Context, sagaID models.ID) (*saga.ChoreographedState, error) {
	var state saga.ChoreographedState
	if err := s.load(ctx, choreographyKey(sagaID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListSummaries summarizes every indexed saga whose record has not expired
func (s *RedisStateStore) ListSummaries(ctx context.Context) ([]saga.Summary, error) {
	keys, err := s.client.SUnion(ctx, activeIndexKey, completedIndexKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read saga indices")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read saga records")
	}

	summaries := make([]saga.Summary, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		summary, err := summarize(keys[i], []byte(raw))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", keys[i]).Msg("skipping undecodable saga record")
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func summarize(key string, raw []byte) (saga.Summary, error) {
	switch {
	case strings.HasPrefix(key, runKeyPrefix):
		var run saga.Run
		if err := json.Unmarshal(raw, &run); err != nil {
			return saga.Summary{}, err
		}
		return saga.SummaryOfRun(&run), nil
	case strings.HasPrefix(key, choreographyKeyPrefix):
		var state saga.ChoreographedState
		if err := json.Unmarshal(raw, &state); err != nil {
			return saga.Summary{}, err
		}
		return saga.SummaryOfChoreography(&state), nil
	default:
		return saga.Summary{}, errors.Errorf("unexpected index member %s", key)
	}
}

// PruneIndex drops completed index members whose record has expired
func (s *RedisStateStore) PruneIndex(ctx context.Context) (int, error) {
	keys, err := s.client.SMembers(ctx, completedIndexKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read completed index")
	}

	pruned := 0
	for _, key := range keys {
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return pruned, errors.Wrapf(err, "failed to check %s", key)
		}
		if exists > 0 {
			continue
		}
		if err := s.client.SRem(ctx, completedIndexKey, key).Err(); err != nil {
			return pruned, errors.Wrapf(err, "failed to prune %s", key)
		}
		pruned++
	}
	return pruned, nil
}

func (s *RedisStateStore) create(ctx context.Context, key string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal saga record")
	}

	created, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", key)
	}
	if !created {
		return saga.ErrSagaExists
	}

	if err := s.client.SAdd(ctx, activeIndexKey, key).Err(); err != nil {
		return errors.Wrapf(err, "failed to index %s", key)
	}
	return nil
}

// save bumps *version, encodes and writes the record when the stored version
// still equals the previous value. On any failure *version is restored.
func (s *RedisStateStore) save(ctx context.Context, key string, version *int64, closed bool, extra []string, encode func() ([]byte, error)) error {
	expected := *version

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return saga.ErrSagaNotFound
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", key)
		}

		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return errors.Wrapf(err, "corrupt record %s", key)
		}
		if stored.Version != expected {
			return saga.ErrVersionConflict
		}

		*version = expected + 1
		payload, err := encode()
		if err != nil {
			return errors.Wrap(err, "failed to marshal saga record")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !closed {
				pipe.Set(ctx, key, payload, 0)
				return nil
			}
			pipe.Set(ctx, key, payload, s.retention)
			for _, k := range extra {
				pipe.Expire(ctx, k, s.retention)
			}
			pipe.SRem(ctx, activeIndexKey, key)
			pipe.SAdd(ctx, completedIndexKey, key)
			return nil
		})
		return err
	}, key)

	if err != nil {
		*version = expected
	}
	if errors.Is(err, redis.TxFailedErr) {
		return saga.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, saga.ErrVersionConflict) && !errors.Is(err, saga.ErrSagaNotFound) {
		return errors.Wrapf(err, "failed to save %s", key)
	}
	return err
}

func (s *RedisStateStore) load(ctx context.Context, key string, out interface{}) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return saga.ErrSagaNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "corrupt record %s", key)
	}
	return nil
}
