package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/rocoloco/brandguard-backend/internal/domain/brands"
	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
	"github.com/rocoloco/brandguard-backend/internal/platform/dbctx"
	"github.com/rocoloco/brandguard-backend/internal/platform/gcs"
)

// fakeJobRepo is an in-memory JobRepo for service tests.
type fakeJobRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*jobs.Job
	updates []map[string]interface{}

	createErr     error
	createErrOnce error
	listErr       error
	deleteErr     map[uuid.UUID]error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{
		byID:      map[uuid.UUID]*jobs.Job{},
		deleteErr: map[uuid.UUID]error{},
	}
}

func (f *fakeJobRepo) Create(_ dbctx.Context, job *jobs.Job) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErrOnce != nil {
		err := f.createErrOnce
		f.createErrOnce = nil
		return nil, err
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	cp := *job
	f.byID[job.ID] = &cp
	return job, nil
}

func (f *fakeJobRepo) ReleaseExpiredIdempotencyKey(_ dbctx.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	released := false
	for _, j := range f.byID {
		if j.IdempotencyKey != nil && *j.IdempotencyKey == key && !j.ExpiresAt.After(now) {
			j.IdempotencyKey = nil
			released = true
		}
	}
	return released, nil
}

func (f *fakeJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepo) GetByIdempotencyKey(_ dbctx.Context, key string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, j := range f.byID {
		if j.IdempotencyKey != nil && *j.IdempotencyKey == key && j.ExpiresAt.After(now) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates)
	j, ok := f.byID[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "progress":
			j.Progress = v.(int)
		case "state":
			if s, ok := v.(datatypes.JSON); ok {
				j.State = s
			}
		case "error":
			j.Error = v.(string)
		case "webhook_attempts":
			j.WebhookAttempts = v.(int)
		}
	}
	return nil
}

func (f *fakeJobRepo) ListExpired(_ dbctx.Context, limit int) ([]*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	now := time.Now().UTC()
	var out []*jobs.Job
	for _, j := range f.byID {
		if j.ExpiresAt.Before(now) {
			cp := *j
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeJobRepo) Delete(_ dbctx.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	delete(f.byID, id)
	return nil
}

// fakeBrandRepo serves a single brand.
type fakeBrandRepo struct {
	brand *brands.Brand
}

func (f *fakeBrandRepo) Create(_ dbctx.Context, b *brands.Brand) (*brands.Brand, error) {
	f.brand = b
	return b, nil
}

func (f *fakeBrandRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*brands.Brand, error) {
	if f.brand == nil || f.brand.ID != id {
		return nil, nil
	}
	cp := *f.brand
	return &cp, nil
}

// fakeNotifier swallows events.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) JobCreated(context.Context, *jobs.Job) { f.record("created") }
func (f *fakeNotifier) JobProgress(_ context.Context, _ *jobs.Job, stage string, _ int, _ string) {
	f.record("progress:" + stage)
}
func (f *fakeNotifier) JobReview(context.Context, *jobs.Job) { f.record("review") }
func (f *fakeNotifier) JobDone(context.Context, *jobs.Job, string) {
	f.record("done")
}
func (f *fakeNotifier) JobFailed(_ context.Context, _ *jobs.Job, _ string) { f.record("failed") }
func (f *fakeNotifier) JobCancelled(context.Context, *jobs.Job)            { f.record("cancelled") }

// fakeGenerator returns canned results per call.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    []GenerateParams
	results  []GenerateResult
	err      error
	sessions int
	closed   []string
}

func (f *fakeGenerator) Generate(_ context.Context, p GenerateParams) (GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	if f.err != nil {
		return GenerateResult{}, f.err
	}
	if len(f.results) > 0 {
		res := f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
		return res, nil
	}
	return GenerateResult{
		ImageURL:  fmt.Sprintf("https://cdn.example.com/%s/attempt-%d.png", p.JobID, p.Attempt),
		AssetKey:  fmt.Sprintf("assets/%s/attempt-%d.png", p.JobID, p.Attempt),
		UsedLogos: p.IncludeLogos,
	}, nil
}

func (f *fakeGenerator) OpenSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	return fmt.Sprintf("conv_%d", f.sessions), nil
}

func (f *fakeGenerator) CloseSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

// fakeEvaluator returns queued scores, then repeats the last one.
type fakeEvaluator struct {
	mu     sync.Mutex
	scores []jobs.ComplianceScore
	err    error
	calls  int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ *brands.Brand, _ string) (jobs.ComplianceScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return jobs.ComplianceScore{}, f.err
	}
	if len(f.scores) == 0 {
		return jobs.ComplianceScore{OverallScore: 90, Approved: true}, nil
	}
	score := f.scores[0]
	if len(f.scores) > 1 {
		f.scores = f.scores[1:]
	}
	return score, nil
}

// fakeBucket is an in-memory object store.
type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string]bool
	listErr   error
	deleteErr map[string]error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{
		objects:   map[string]bool{},
		deleteErr: map[string]error{},
	}
}

func (f *fakeBucket) key(cat gcs.BucketCategory, name string) string {
	return string(cat) + "/" + name
}

func (f *fakeBucket) UploadFile(_ context.Context, cat gcs.BucketCategory, name string, _ io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[f.key(cat, name)] = true
	return nil
}

func (f *fakeBucket) DeleteFile(_ context.Context, cat gcs.BucketCategory, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[name]; err != nil {
		return false, err
	}
	k := f.key(cat, name)
	if !f.objects[k] {
		return false, nil
	}
	delete(f.objects, k)
	return true, nil
}

func (f *fakeBucket) DownloadFile(context.Context, gcs.BucketCategory, string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeBucket) ListKeys(_ context.Context, cat gcs.BucketCategory, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for k := range f.objects {
		full := f.key(cat, prefix)
		if strings.HasPrefix(k, full) {
			out = append(out, strings.TrimPrefix(k, string(cat)+"/"))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBucket) DeletePrefix(ctx context.Context, cat gcs.BucketCategory, prefix string) error {
	keys, err := f.ListKeys(ctx, cat, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := f.DeleteFile(ctx, cat, k); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBucket) GetPublicURL(cat gcs.BucketCategory, name string) string {
	return "https://storage.example.com/" + f.key(cat, name)
}

// fakeRunner records workflow control calls.
type fakeRunner struct {
	mu        sync.Mutex
	started   []uuid.UUID
	resumed   []uuid.UUID
	cancelled []uuid.UUID
}

func (f *fakeRunner) StartJobWorkflow(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeRunner) SignalResume(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return nil
}

func (f *fakeRunner) CancelJobWorkflow(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

// fakeWebhook records deliveries.
type fakeWebhook struct {
	mu        sync.Mutex
	delivered []WebhookPayload
	ok        bool
}

func (f *fakeWebhook) Deliver(_ context.Context, _ string, payload WebhookPayload, _ uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, payload)
	return f.ok
}
