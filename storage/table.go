package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const (
	snapshotRowKey = "snapshot"
	// Table string properties hold at most 32K UTF-16 code units.
	chunkBytes = 30000
	maxChunks  = 16
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

// TableStore keeps one entity per state key in an Azure table. The encoded
// snapshot is split across State0..StateN properties.
type TableStore struct {
	table tableClient
	now   func() time.Time
}

// NewTableStore connects to the named table using a storage connection string.
func NewTableStore(connStr, table string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table), now: time.Now}, nil
}

var partitionEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C", "#", "%23", "?", "%3F")

// partitionKey escapes the characters Azure forbids in keys.
func partitionKey(key string) string {
	return partitionEscaper.Replace(key)
}

func (s *TableStore) Load(ctx context.Context, key string) (domain.AppState, error) {
	ent, err := s.table.GetEntity(ctx, partitionKey(key), snapshotRowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.AppState{}, ErrNotFound
		}
		return domain.AppState{}, err
	}
	data, err := joinChunks(ent.Value)
	if err != nil {
		return domain.AppState{}, err
	}
	return Decode(data)
}

func (s *TableStore) Save(ctx context.Context, key string, st domain.AppState) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	chunks := splitChunks(data)
	if len(chunks) > maxChunks {
		return fmt.Errorf("state for %q is too large: %d bytes", key, len(data))
	}
	ent := map[string]any{
		"PartitionKey": partitionKey(key),
		"RowKey":       snapshotRowKey,
		"Chunks":       len(chunks),
		"SavedAt":      s.now().UTC().Format(time.RFC3339Nano),
	}
	for i, c := range chunks {
		ent[fmt.Sprintf("State%d", i)] = c
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.table.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (s *TableStore) Close() error { return nil }

// splitChunks cuts data into pieces of at most chunkBytes without splitting a
// UTF-8 sequence.
func splitChunks(data []byte) []string {
	var out []string
	for len(data) > chunkBytes {
		end := chunkBytes
		for end > 0 && !utf8.RuneStart(data[end]) {
			end--
		}
		out = append(out, string(data[:end]))
		data = data[end:]
	}
	return append(out, string(data))
}

func joinChunks(value []byte) ([]byte, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(value, &raw); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	n, ok := raw["Chunks"].(float64)
	if !ok || n < 1 {
		return nil, errors.New("decode entity: missing chunk count")
	}
	var b strings.Builder
	for i := 0; i < int(n); i++ {
		part, ok := raw[fmt.Sprintf("State%d", i)].(string)
		if !ok {
			return nil, fmt.Errorf("decode entity: missing chunk %d", i)
		}
		b.WriteString(part)
	}
	return []byte(b.String()), nil
}
