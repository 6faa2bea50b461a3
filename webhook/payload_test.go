package webhook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/renderq/event"
	"github.com/xraph/renderq/id"
	"github.com/xraph/renderq/job"
	"github.com/xraph/renderq/webhook"
)

func TestPayloadCanonicalEncoding(t *testing.T) {
	eventID := id.NewEventID()
	jobID := id.NewJobID()
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("X", 3600))

	p := webhook.NewPayload(event.Transition{
		ID:      eventID,
		JobID:   jobID,
		From:    job.StateActive,
		To:      job.StateFailed,
		Attempt: 2,
		Error:   "encoder exited 1",
		At:      at,
	})

	body, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":"`+eventID.String()+`","type":"render.failed","job_id":"`+jobID.String()+
			`","from_state":"active","to_state":"failed","attempt":2,"error":"encoder exited 1",`+
			`"timestamp":"2026-01-02T02:04:05.000000006Z"}`,
		string(body))

	again, err := p.Encode()
	require.NoError(t, err)
	assert.Equal(t, body, again, "encoding is byte-stable")
}
