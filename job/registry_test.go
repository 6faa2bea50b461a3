package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/xraph/renderq/job"
)

type scenePayload struct {
	Scene  string `json:"scene"`
	Frames int    `json:"frames"`
}

func TestRegistry_RegisterDefinition(t *testing.T) {
	r := job.NewRegistry()

	var got scenePayload
	job.RegisterDefinition(r, job.NewDefinition("video", func(_ context.Context, p scenePayload, progress job.ProgressFunc) error {
		got = p
		progress(100, "done")
		return nil
	}))

	e, ok := r.Lookup("video")
	if !ok {
		t.Fatal("expected executor to be registered")
	}

	payload, _ := json.Marshal(scenePayload{Scene: "intro", Frames: 240})
	var reported int
	if err := e.Execute(context.Background(), payload, func(p int, _ string) { reported = p }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Scene != "intro" || got.Frames != 240 {
		t.Errorf("payload = %+v", got)
	}
	if reported != 100 {
		t.Errorf("progress = %d, want 100", reported)
	}
}

func TestRegistry_DecodeError(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("video", func(context.Context, scenePayload, job.ProgressFunc) error {
		t.Fatal("handler must not run on a bad payload")
		return nil
	}))
	e, _ := r.Lookup("video")
	if err := e.Execute(context.Background(), []byte("{not json"), func(int, string) {}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistry_Fallback(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Lookup("audio"); ok {
		t.Fatal("expected no executor before registration")
	}

	sentinel := errors.New("fallback ran")
	r.Register("", job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error { return sentinel }))

	e, ok := r.Lookup("audio")
	if !ok {
		t.Fatal("expected fallback executor")
	}
	if err := e.Execute(context.Background(), nil, nil); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want fallback sentinel", err)
	}
}

func TestRegistry_Kinds(t *testing.T) {
	r := job.NewRegistry()
	noop := job.ExecutorFunc(func(context.Context, []byte, job.ProgressFunc) error { return nil })
	r.Register("video", noop)
	r.Register("audio", noop)
	r.Register("", noop)

	kinds := r.Kinds()
	sort.Strings(kinds)
	if len(kinds) != 2 || kinds[0] != "audio" || kinds[1] != "video" {
		t.Errorf("kinds = %v", kinds)
	}
}
