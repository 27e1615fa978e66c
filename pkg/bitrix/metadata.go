package bitrix

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// FieldMapping maps CRM field identifiers to their display label.
type FieldMapping map[string]string

// StageMapping maps pipeline stage identifiers to their display name. A nil
// StageMapping means the stage list could not be fetched.
type StageMapping map[string]string

// MetadataError marks a metadata fetch that failed and was replaced by a
// fallback value.
type MetadataError struct {
	Kind string
	Err  error
}

func (e *MetadataError) Error() string {
	return "failed to fetch " + e.Kind + " metadata: " + e.Err.Error()
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

type Metadata struct {
	Fields FieldMapping
	Stages StageMapping
}

// FetchFieldMapping returns the label of every deal field, falling back to the
// identifier when a field has no list label. On failure it returns an empty
// mapping together with a *MetadataError.
func (c *Client) FetchFieldMapping(ctx context.Context) (FieldMapping, error) {
	var resp fieldsResponse
	if err := c.call(ctx, http.MethodGet, c.config.FieldsMethod, nil, nil, &resp); err != nil {
		return FieldMapping{}, &MetadataError{Kind: "field", Err: err}
	}

	mapping := make(FieldMapping, len(resp.Result))
	for id, info := range resp.Result {
		label := info.ListLabel
		if label == "" {
			label = id
		}
		mapping[id] = label
	}

	return mapping, nil
}

// FetchStageMapping walks the paginated status list and returns the display
// name of every status. On failure it returns nil and a *MetadataError.
func (c *Client) FetchStageMapping(ctx context.Context) (StageMapping, error) {
	mapping := make(StageMapping)
	start := 0
	for {
		var resp stagesResponse
		if err := c.call(ctx, http.MethodGet, c.config.StagesMethod, startQuery(start), nil, &resp); err != nil {
			return nil, &MetadataError{Kind: "stage", Err: err}
		}

		for _, s := range resp.Result {
			mapping[s.StatusID] = s.Name
		}

		if resp.Next == nil {
			return mapping, nil
		}
		if *resp.Next <= start {
			return nil, &MetadataError{Kind: "stage", Err: errors.Errorf("crm returned non-increasing offset %d after %d", *resp.Next, start)}
		}
		start = *resp.Next
	}
}

// FetchMetadata fetches both mappings. Failures are logged and degrade to the
// fallback values, they never stop a run.
func (c *Client) FetchMetadata(ctx context.Context) Metadata {
	fields, err := c.FetchFieldMapping(ctx)
	if err != nil {
		c.logger.Warnw("continuing with raw field names", "error", err)
	} else {
		c.logger.Infof("fetched labels for %d deal fields", len(fields))
		for id, label := range fields {
			c.logger.Debugf("%s -> %s", id, label)
		}
	}

	stages, err := c.FetchStageMapping(ctx)
	if err != nil {
		c.logger.Warnw("continuing with raw stage identifiers", "error", err)
	} else {
		c.logger.Infof("fetched names for %d stages", len(stages))
	}

	return Metadata{Fields: fields, Stages: stages}
}
