package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/pharmacy-platform/internal/ai"
	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
	"github.com/suPer8Hu/pharmacy-platform/internal/metrics"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (c *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.reply, c.err
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&catalog.Manufacturer{}, &catalog.Drug{}, &Diagnosis{}, &RecommendedDrug{}, &Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedDrug(t *testing.T, db *gorm.DB, name string, price float64, manufacturer string) catalog.Drug {
	t.Helper()
	m := catalog.Manufacturer{Name: manufacturer}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("create manufacturer: %v", err)
	}
	d := catalog.Drug{GenericName: name, Price: price, Picture: strings.ToLower(name) + ".png", ManufacturerID: &m.ID}
	if err := db.Create(&d).Error; err != nil {
		t.Fatalf("create drug: %v", err)
	}
	d.Manufacturer = m
	return d
}

func newTestService(db *gorm.DB, c ai.Completer, opts ...Option) *Service {
	drugs := catalog.NewRepo(db)
	return NewService(NewRepo(db), c, catalog.NewIndex(drugs, 0), drugs, opts...)
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestSubmit_PersistsDiagnosisAndPivotRows(t *testing.T) {
	db := openTestDB(t)
	para := seedDrug(t, db, "Paracetamol", 3.5, "Acme")
	ibu := seedDrug(t, db, "Ibuprofen", 4.25, "Globex")

	comp := &fakeCompleter{reply: `{"diagnosis":"Common cold","drugs":[{"name":"Paracetamol","quantity":1},{"name":"Ibuprofen","quantity":2}]}`}
	svc := newTestService(db, comp)

	res, err := svc.Submit(context.Background(), 7, "runny nose and fever")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if len(comp.prompts) != 1 || !strings.HasSuffix(comp.prompts[0], "runny nose and fever") ||
		!strings.HasPrefix(comp.prompts[0], instructionPrompt) {
		t.Fatalf("unexpected prompt: %q", comp.prompts)
	}
	if res.Diagnosis != "Common cold" || res.DiagnosisID == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Raw != comp.reply {
		t.Fatalf("expected raw reply to be returned")
	}
	if len(res.RecommendedDrugs) != 2 {
		t.Fatalf("expected 2 recommended drugs, got %+v", res.RecommendedDrugs)
	}
	first, second := res.RecommendedDrugs[0], res.RecommendedDrugs[1]
	if first.ID != para.ID || first.Quantity != 1 || first.Price != 3.5 || first.Manufacturer != "Acme" || first.Picture != "paracetamol.png" {
		t.Fatalf("unexpected first drug: %+v", first)
	}
	if second.ID != ibu.ID || second.Quantity != 2 || second.Manufacturer != "Globex" || second.Name != "Ibuprofen" {
		t.Fatalf("unexpected second drug: %+v", second)
	}

	var diags []Diagnosis
	if err := db.Find(&diags).Error; err != nil {
		t.Fatalf("query diagnoses: %v", err)
	}
	if len(diags) != 1 || diags[0].UserID != 7 || diags[0].Symptoms != "runny nose and fever" || diags[0].DiagnosisText != "Common cold" {
		t.Fatalf("unexpected diagnoses: %+v", diags)
	}

	var rows []RecommendedDrug
	if err := db.Order("drug_id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("query pivot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 pivot rows, got %d", len(rows))
	}
	if rows[0].DrugID != para.ID || rows[0].Quantity != 1 || rows[1].DrugID != ibu.ID || rows[1].Quantity != 2 {
		t.Fatalf("unexpected pivot rows: %+v", rows)
	}
	for _, r := range rows {
		if r.DiagnosisID != diags[0].ID {
			t.Fatalf("pivot row points at diagnosis %d, want %d", r.DiagnosisID, diags[0].ID)
		}
	}
}

func TestSubmit_UnmatchedMentionsAreDropped(t *testing.T) {
	db := openTestDB(t)
	para := seedDrug(t, db, "Paracetamol", 3.5, "Acme")

	comp := &fakeCompleter{reply: `{"diagnosis":"Fever","drugs":[{"name":"Paracetamol","quantity":2},{"name":"Unobtainium","quantity":1}]}`}
	res, err := newTestService(db, comp).Submit(context.Background(), 1, "hot")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(res.RecommendedDrugs) != 1 || res.RecommendedDrugs[0].ID != para.ID || res.RecommendedDrugs[0].Quantity != 2 {
		t.Fatalf("unexpected drugs: %+v", res.RecommendedDrugs)
	}
	if n := countRows(t, db, &RecommendedDrug{}); n != 1 {
		t.Fatalf("expected 1 pivot row, got %d", n)
	}
}

func TestSubmit_RepeatedDrugUpsertsQuantity(t *testing.T) {
	db := openTestDB(t)
	para := seedDrug(t, db, "Paracetamol", 3.5, "Acme")
	ibu := seedDrug(t, db, "Ibuprofen", 4.0, "Acme")

	comp := &fakeCompleter{reply: `{"diagnosis":"Pain","drugs":[
		{"name":"Paracetamol","quantity":1},
		{"name":"Ibuprofen","quantity":1},
		{"name":"paracetamol","quantity":4}
	]}`}
	res, err := newTestService(db, comp).Submit(context.Background(), 1, "aches")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var rows []RecommendedDrug
	if err := db.Where("drug_id = ?", para.ID).Find(&rows).Error; err != nil {
		t.Fatalf("query pivot: %v", err)
	}
	if len(rows) != 1 || rows[0].Quantity != 4 {
		t.Fatalf("expected one upserted row with quantity 4, got %+v", rows)
	}
	if n := countRows(t, db, &RecommendedDrug{}); n != 2 {
		t.Fatalf("expected 2 pivot rows, got %d", n)
	}

	if len(res.RecommendedDrugs) != 2 {
		t.Fatalf("expected collapsed response, got %+v", res.RecommendedDrugs)
	}
	if res.RecommendedDrugs[0].ID != para.ID || res.RecommendedDrugs[0].Quantity != 4 || res.RecommendedDrugs[1].ID != ibu.ID {
		t.Fatalf("unexpected response order or quantity: %+v", res.RecommendedDrugs)
	}
}

func TestSubmit_Unauthenticated(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{reply: "x | y"}

	_, err := newTestService(db, comp).Submit(context.Background(), 0, "cough")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if len(comp.prompts) != 0 {
		t.Fatalf("expected no provider call before identity check")
	}
}

func TestSubmit_EmptySymptoms(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{reply: "x"}

	if _, err := newTestService(db, comp).Submit(context.Background(), 1, "  "); !errors.Is(err, ErrEmptySymptoms) {
		t.Fatalf("expected ErrEmptySymptoms, got %v", err)
	}
	if len(comp.prompts) != 0 {
		t.Fatalf("expected no provider call")
	}
}

func TestSubmit_AllProvidersExhaustedCreatesNothing(t *testing.T) {
	db := openTestDB(t)
	seedDrug(t, db, "Paracetamol", 1, "Acme")

	var calls []string
	keyring := ai.NewKeyRotatingClient([]string{"k1", "k2"}, func(apiKey string) ai.Provider {
		return failingProvider{key: apiKey, calls: &calls}
	})

	_, err := newTestService(db, keyring).Submit(context.Background(), 1, "cough")
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected both credentials tried, got %v", calls)
	}
	if n := countRows(t, db, &Diagnosis{}); n != 0 {
		t.Fatalf("expected no diagnosis rows, got %d", n)
	}
}

type failingProvider struct {
	key   string
	calls *[]string
}

func (p failingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	*p.calls = append(*p.calls, p.key)
	return "", &ai.StatusError{StatusCode: 503}
}

func TestSubmit_UnparsableCreatesNothing(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{reply: "   "}

	_, err := newTestService(db, comp).Submit(context.Background(), 1, "cough")
	if !errors.Is(err, ErrUnparsableResponse) {
		t.Fatalf("expected ErrUnparsableResponse, got %v", err)
	}
	var ue *UnparsableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnparsableError, got %T", err)
	}
	if n := countRows(t, db, &Diagnosis{}); n != 0 {
		t.Fatalf("expected no diagnosis rows, got %d", n)
	}
}

func TestSubmit_PersistenceFailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	seedDrug(t, db, "Paracetamol", 1, "Acme")
	if err := db.Migrator().DropTable(&RecommendedDrug{}); err != nil {
		t.Fatalf("drop pivot: %v", err)
	}

	comp := &fakeCompleter{reply: `{"diagnosis":"Cold","drugs":["Paracetamol"]}`}
	_, err := newTestService(db, comp).Submit(context.Background(), 1, "cough")
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
	if n := countRows(t, db, &Diagnosis{}); n != 0 {
		t.Fatalf("expected rollback to leave no diagnosis rows, got %d", n)
	}
}

func TestSubmit_NoResolvedDrugsStillStoresDiagnosis(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{reply: "Allergic rhinitis | Loratadine"}

	res, err := newTestService(db, comp).Submit(context.Background(), 3, "sneezing")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Diagnosis != "Allergic rhinitis" || len(res.RecommendedDrugs) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n := countRows(t, db, &Diagnosis{}); n != 1 {
		t.Fatalf("expected 1 diagnosis row, got %d", n)
	}
}

func TestSubmit_RecordsMetrics(t *testing.T) {
	db := openTestDB(t)
	seedDrug(t, db, "Paracetamol", 1, "Acme")
	m := metrics.New(prometheus.NewRegistry())

	comp := &fakeCompleter{reply: `Sure: {"diagnosis":"Cold","drugs":["Paracetamol","Unobtainium"]}`}
	if _, err := newTestService(db, comp, WithMetrics(m)).Submit(context.Background(), 1, "cough"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := testutil.ToFloat64(m.ParseStrategy.WithLabelValues(StrategyEmbeddedJSON)); got != 1 {
		t.Fatalf("expected embedded strategy counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.Mentions.WithLabelValues("false")); got != 1 {
		t.Fatalf("expected 1 unresolved mention, got %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineResults.WithLabelValues(StageDone)); got != 1 {
		t.Fatalf("expected 1 done result, got %v", got)
	}
}

func TestGetDiagnosis_OwnershipAndEnrichment(t *testing.T) {
	db := openTestDB(t)
	para := seedDrug(t, db, "Paracetamol", 3.5, "Acme")

	comp := &fakeCompleter{reply: `{"diagnosis":"Cold","drugs":[{"name":"Paracetamol","quantity":3}]}`}
	svc := newTestService(db, comp)
	res, err := svc.Submit(context.Background(), 5, "cough")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// price changes after the diagnosis; history reflects the catalog now
	if err := db.Model(&catalog.Drug{}).Where("id = ?", para.ID).Update("price", 9.99).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	got, err := svc.GetDiagnosis(context.Background(), 5, res.DiagnosisID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Diagnosis != "Cold" || len(got.RecommendedDrugs) != 1 {
		t.Fatalf("unexpected diagnosis: %+v", got)
	}
	if v := got.RecommendedDrugs[0]; v.Quantity != 3 || v.Price != 9.99 || v.Manufacturer != "Acme" {
		t.Fatalf("unexpected view: %+v", v)
	}

	if _, err := svc.GetDiagnosis(context.Background(), 6, res.DiagnosisID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
}

func TestListDiagnoses_Paging(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(db, &fakeCompleter{reply: "Cold | "})

	var ids []uint64
	for i := 0; i < 3; i++ {
		res, err := svc.Submit(context.Background(), 9, "cough")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, res.DiagnosisID)
	}
	if _, err := svc.Submit(context.Background(), 10, "other user"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	page, err := svc.ListDiagnoses(context.Background(), 9, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = svc.ListDiagnoses(context.Background(), 9, 2, page[1].ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestJobs_EnqueueIdempotentAndRun(t *testing.T) {
	db := openTestDB(t)
	seedDrug(t, db, "Paracetamol", 2, "Acme")
	comp := &fakeCompleter{reply: `{"diagnosis":"Cold","drugs":["Paracetamol"]}`}
	svc := newTestService(db, comp)

	n := 0
	newID := func() (string, error) {
		n++
		return strings.Repeat("0", 25) + string(rune('0'+n)), nil
	}
	key := "abc"

	j1, created, err := svc.EnqueueJob(context.Background(), 4, "cough", &key, newID)
	if err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	j2, created, err := svc.EnqueueJob(context.Background(), 4, "cough again", &key, newID)
	if err != nil || created {
		t.Fatalf("expected existing job, created=%v err=%v", created, err)
	}
	if j1.ID != j2.ID {
		t.Fatalf("expected same job id, got %s and %s", j1.ID, j2.ID)
	}

	if _, err := svc.GetJob(context.Background(), 99, j1.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected other user's job hidden, got %v", err)
	}

	if err := svc.RunJob(context.Background(), j1.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := svc.GetJob(context.Background(), 4, j1.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded || got.DiagnosisID == nil || got.Error != nil {
		t.Fatalf("unexpected job: %+v", got)
	}
	var payload Result
	if err := json.Unmarshal(got.Result, &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if payload.Diagnosis != "Cold" || len(payload.RecommendedDrugs) != 1 || payload.DiagnosisID != *got.DiagnosisID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestJobs_RunRecordsFailure(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{err: ai.ErrAllProvidersExhausted}
	svc := newTestService(db, comp)

	j, _, err := svc.EnqueueJob(context.Background(), 4, "cough", nil, func() (string, error) {
		return "01JOBFAILS0000000000000000", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := svc.RunJob(context.Background(), j.ID); !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	got, err := svc.GetJob(context.Background(), 4, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobFailed || got.Error == nil || !strings.Contains(*got.Error, "exhausted") {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestJobs_FailedJobSucceedsOnRetry(t *testing.T) {
	db := openTestDB(t)
	comp := &fakeCompleter{err: ai.ErrAllProvidersExhausted}
	svc := newTestService(db, comp)

	j, _, err := svc.EnqueueJob(context.Background(), 4, "cough", nil, func() (string, error) {
		return "01JOBRETRY0000000000000000", nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.RunJob(context.Background(), j.ID); err == nil {
		t.Fatalf("expected first run to fail")
	}

	comp.err = nil
	comp.reply = "Cold | "
	if err := svc.RunJob(context.Background(), j.ID); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	got, err := svc.GetJob(context.Background(), 4, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded || got.Error != nil || got.DiagnosisID == nil {
		t.Fatalf("unexpected job after retry: %+v", got)
	}
}

func TestGetDiagnosis_KeepsMentionOrder(t *testing.T) {
	db := openTestDB(t)
	para := seedDrug(t, db, "Paracetamol", 3.5, "Acme")
	ibu := seedDrug(t, db, "Ibuprofen", 4.0, "Globex")

	// higher id mentioned first, repeated later
	comp := &fakeCompleter{reply: `{"diagnosis":"Pain","drugs":["Ibuprofen","Paracetamol",{"name":"Ibuprofen","quantity":2}]}`}
	svc := newTestService(db, comp)
	res, err := svc.Submit(context.Background(), 1, "aches")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := svc.GetDiagnosis(context.Background(), 1, res.DiagnosisID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if len(res.RecommendedDrugs) != 2 || len(got.RecommendedDrugs) != 2 {
		t.Fatalf("unexpected drugs: submit=%+v get=%+v", res.RecommendedDrugs, got.RecommendedDrugs)
	}
	for i, want := range []uint64{ibu.ID, para.ID} {
		if res.RecommendedDrugs[i].ID != want || got.RecommendedDrugs[i].ID != want {
			t.Fatalf("position %d: submit=%d get=%d want %d", i, res.RecommendedDrugs[i].ID, got.RecommendedDrugs[i].ID, want)
		}
	}
	if got.RecommendedDrugs[0].Quantity != 2 {
		t.Fatalf("expected last quantity to win, got %+v", got.RecommendedDrugs[0])
	}

	var row RecommendedDrug
	if err := db.Where("diagnosis_id = ? AND drug_id = ?", res.DiagnosisID, para.ID).First(&row).Error; err != nil {
		t.Fatalf("query pivot: %v", err)
	}
	if row.Position != 1 {
		t.Fatalf("expected position 1, got %d", row.Position)
	}
}

func TestJobs_ClaimFailureIsLogged(t *testing.T) {
	db := openTestDB(t)
	var buf bytes.Buffer
	svc := newTestService(db, &fakeCompleter{reply: "Cold | "}, WithLogger(zerolog.New(&buf)))

	if err := db.Migrator().DropTable(&Job{}); err != nil {
		t.Fatalf("drop jobs: %v", err)
	}

	if err := svc.RunJob(context.Background(), "01JOBGONE00000000000000000"); err == nil {
		t.Fatalf("expected error without a jobs table")
	}
	if !strings.Contains(buf.String(), "job claim failed") || !strings.Contains(buf.String(), "01JOBGONE00000000000000000") {
		t.Fatalf("expected claim failure in log, got %q", buf.String())
	}
}
