package bitrix

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchFieldMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		fields  map[string]interface{}
		want    FieldMapping
		wantErr bool
	}{
		{
			name:   "labels with fallback to identifier",
			status: http.StatusOK,
			fields: map[string]interface{}{
				"ID":            map[string]interface{}{"type": "integer", "title": "ID"},
				"UF_CRM_123":    map[string]interface{}{"type": "string", "listLabel": "Client Name"},
				"UF_CRM_EMPTY":  map[string]interface{}{"type": "string", "listLabel": ""},
				"UF_CRM_NUMBER": map[string]interface{}{"type": "double", "listLabel": "Valor (R$)"},
			},
			want: FieldMapping{
				"ID":            "ID",
				"UF_CRM_123":    "Client Name",
				"UF_CRM_EMPTY":  "UF_CRM_EMPTY",
				"UF_CRM_NUMBER": "Valor (R$)",
			},
		},
		{
			name:    "non-success status degrades to an empty mapping",
			status:  http.StatusForbidden,
			want:    FieldMapping{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, &fakeCRM{fieldsStatus: tt.status, fields: tt.fields})

			got, err := client.FetchFieldMapping(context.Background())
			assert.Equal(t, tt.want, got)

			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			var metaErr *MetadataError
			require.ErrorAs(t, err, &metaErr)
			assert.Equal(t, "field", metaErr.Kind)

			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "ACCESS_DENIED", statusErr.Code)
		})
	}
}

func TestClient_FetchStageMapping(t *testing.T) {
	t.Parallel()

	crm := &fakeCRM{stagePages: [][]map[string]string{
		{
			{"ENTITY_ID": "DEAL_STAGE", "STATUS_ID": "NEW", "NAME": "New"},
			{"ENTITY_ID": "DEAL_STAGE", "STATUS_ID": "WON", "NAME": "Won"},
		},
		{
			{"ENTITY_ID": "DEAL_STAGE_2", "STATUS_ID": "C2:NEW", "NAME": "Second pipeline"},
		},
	}}
	client := newTestClient(t, crm)

	got, err := client.FetchStageMapping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageMapping{
		"NEW":    "New",
		"WON":    "Won",
		"C2:NEW": "Second pipeline",
	}, got)
}

func TestClient_FetchStageMapping_Failure(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeCRM{stagesStatus: http.StatusInternalServerError})

	got, err := client.FetchStageMapping(context.Background())
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "failed to fetch stage metadata")
}

func TestClient_FetchMetadata_Degrades(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeCRM{
		fieldsStatus: http.StatusUnauthorized,
		stagesStatus: http.StatusUnauthorized,
	})

	meta := client.FetchMetadata(context.Background())
	assert.NotNil(t, meta.Fields)
	assert.Empty(t, meta.Fields)
	assert.Nil(t, meta.Stages)
}

func TestClient_FetchMetadata(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeCRM{
		fields: map[string]interface{}{
			"UF_CRM_1": map[string]interface{}{"listLabel": "Origin"},
		},
		stagePages: [][]map[string]string{
			{{"STATUS_ID": "NEW", "NAME": "New"}},
		},
	})

	meta := client.FetchMetadata(context.Background())
	assert.Equal(t, FieldMapping{"UF_CRM_1": "Origin"}, meta.Fields)
	assert.Equal(t, StageMapping{"NEW": "New"}, meta.Stages)
}
