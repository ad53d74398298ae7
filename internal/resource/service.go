package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/waabox/stockdeck/internal/apiclient"
	"github.com/waabox/stockdeck/internal/domain"
)

// Service reads and writes records through the authenticated client.
type Service struct {
	client   *apiclient.Client
	registry *Registry
}

// NewService creates a Service. A nil registry uses DefaultRegistry().
func NewService(client *apiclient.Client, registry *Registry) *Service {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Service{client: client, registry: registry}
}

// Registry returns the resource catalog.
func (s *Service) Registry() *Registry {
	return s.registry
}

// List returns every record of the named resource. query is sent as URL parameters
// and may be nil. Plain JSON arrays, paginated {"results": [...]} bodies and single
// objects (summary endpoints such as the finance overview) are all accepted.
func (s *Service) List(ctx context.Context, name string, query url.Values) ([]domain.Record, error) {
	res, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	var opts []apiclient.RequestOption
	if len(query) > 0 {
		opts = append(opts, apiclient.WithQuery(query))
	}
	resp, err := s.client.Get(ctx, res.Path, opts...)
	if err != nil {
		return nil, err
	}
	records, err := decodeList(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", res.Name, err)
	}
	return records, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, name, id string) (domain.Record, error) {
	res, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	path, err := res.ItemPath(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := resp.Decode(&rec); err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", res.Name, id, err)
	}
	return rec, nil
}

// Create posts fields to the collection and returns the stored record.
func (s *Service) Create(ctx context.Context, name string, fields map[string]any) (domain.Record, error) {
	res, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Post(ctx, res.Path, fields)
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

// Update patches the record with fields and returns the stored record.
func (s *Service) Update(ctx context.Context, name, id string, fields map[string]any) (domain.Record, error) {
	res, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	path, err := res.ItemPath(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Patch(ctx, path, fields)
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, name, id string) error {
	res, err := s.registry.Lookup(name)
	if err != nil {
		return err
	}
	path, err := res.ItemPath(id)
	if err != nil {
		return err
	}
	_, err = s.client.Delete(ctx, path, nil)
	return err
}

// decodeRecord tolerates an empty body, which some endpoints send on 204.
func decodeRecord(resp *apiclient.Response) (domain.Record, error) {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return domain.Record{}, nil
	}
	var rec domain.Record
	if err := resp.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeList(body []byte) ([]domain.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var records []domain.Record
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decoding list: %w", err)
		}
		return records, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	if raw, ok := obj["results"]; ok {
		var records []domain.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decoding results: %w", err)
		}
		return records, nil
	}
	var rec domain.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decoding list: %w", err)
	}
	return []domain.Record{rec}, nil
}
