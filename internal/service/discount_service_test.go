package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discount-system/internal/models"
	"github.com/discount-system/internal/repository"

	"github.com/glebarez/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// memoryDiscountRepo 内存版折扣码仓储，MarkUsed 与数据库一样按 used_at 条件更新
type memoryDiscountRepo struct {
	mu      sync.Mutex
	byCode  map[string]*models.DiscountCode
	preset  map[string]struct{} // 仅在存在性检查中报告为已存在的码
	failErr error

	getCalls      atomic.Int32
	existingCalls atomic.Int32
	insertCalls   atomic.Int32
	markCalls     atomic.Int32
}

func newMemoryDiscountRepo() *memoryDiscountRepo {
	return &memoryDiscountRepo{
		byCode: make(map[string]*models.DiscountCode),
		preset: make(map[string]struct{}),
	}
}

func (r *memoryDiscountRepo) GetByCode(_ context.Context, code string) (*models.DiscountCode, error) {
	r.getCalls.Add(1)
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byCode[code]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (r *memoryDiscountRepo) ListExistingCodes(_ context.Context, codes []string) (map[string]struct{}, error) {
	r.existingCalls.Add(1)
	if r.failErr != nil {
		return nil, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]struct{})
	for _, code := range codes {
		if _, ok := r.byCode[code]; ok {
			result[code] = struct{}{}
		}
		if _, ok := r.preset[code]; ok {
			result[code] = struct{}{}
		}
	}
	return result, nil
}

func (r *memoryDiscountRepo) BulkInsert(_ context.Context, codes []models.DiscountCode) (int64, error) {
	r.insertCalls.Add(1)
	if r.failErr != nil {
		return 0, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range codes {
		if _, ok := r.byCode[code.Code]; ok {
			return 0, fmt.Errorf("duplicate code %s", code.Code)
		}
	}
	for i := range codes {
		record := codes[i]
		r.byCode[record.Code] = &record
	}
	return int64(len(codes)), nil
}

func (r *memoryDiscountRepo) MarkUsed(_ context.Context, id string, usedAt time.Time) (bool, error) {
	r.markCalls.Add(1)
	if r.failErr != nil {
		return false, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.byCode {
		if record.ID != id {
			continue
		}
		if record.UsedAt != nil {
			return false, nil
		}
		at := usedAt
		record.UsedAt = &at
		record.IsUsed = true
		return true, nil
	}
	return false, nil
}

func (r *memoryDiscountRepo) List(_ context.Context, _ repository.DiscountCodeListFilter) ([]models.DiscountCode, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]models.DiscountCode, 0, len(r.byCode))
	for _, record := range r.byCode {
		records = append(records, *record)
	}
	return records, int64(len(records)), nil
}

func (r *memoryDiscountRepo) CountStats(_ context.Context) (repository.DiscountCodeStats, error) {
	if r.failErr != nil {
		return repository.DiscountCodeStats{}, r.failErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var stats repository.DiscountCodeStats
	for _, record := range r.byCode {
		stats.Total++
		if record.Used() {
			stats.Used++
		}
	}
	stats.Unused = stats.Total - stats.Used
	return stats, nil
}

func (r *memoryDiscountRepo) seed(code string, usedAt *time.Time) *models.DiscountCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	record := &models.DiscountCode{
		ID:        "id-" + code,
		Code:      code,
		IsUsed:    usedAt != nil,
		UsedAt:    usedAt,
		CreatedAt: time.Now().UTC(),
	}
	r.byCode[code] = record
	return record
}

func (r *memoryDiscountRepo) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		result = append(result, code)
	}
	return result
}

// sequenceGenerator 按顺序返回预设值，用尽后报错
type sequenceGenerator struct {
	mu     sync.Mutex
	values []string
	calls  int
}

func (g *sequenceGenerator) GenerateCode() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls >= len(g.values) {
		return "", errors.New("sequence exhausted")
	}
	value := g.values[g.calls]
	g.calls++
	return value, nil
}

// counterGenerator 生成按序递增且互不相同的码
type counterGenerator struct {
	next atomic.Int64
}

func (g *counterGenerator) GenerateCode() (string, error) {
	return fmt.Sprintf("C%07d", g.next.Add(1)), nil
}

// memoryUsedCache 内存版已使用缓存
type memoryUsedCache struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	readErr error
}

func newMemoryUsedCache() *memoryUsedCache {
	return &memoryUsedCache{entries: make(map[string]time.Duration)}
}

func (c *memoryUsedCache) IsUsed(_ context.Context, code string) (bool, error) {
	if c.readErr != nil {
		return false, c.readErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[code]
	return ok, nil
}

func (c *memoryUsedCache) MarkUsed(_ context.Context, code string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = ttl
	return nil
}

func (c *memoryUsedCache) ttl(code string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ttl, ok := c.entries[code]
	return ttl, ok
}

func isValidDiscountCode(code string) bool {
	if len(code) != DiscountCodeLength {
		return false
	}
	for _, ch := range code {
		if !strings.ContainsRune(DiscountCodeAlphabet, ch) {
			return false
		}
	}
	return true
}

func TestDiscountServiceGenerateCodes(t *testing.T) {
	for _, count := range []int{1, 7, 100, 101, 250, 2000} {
		t.Run(fmt.Sprintf("count_%d", count), func(t *testing.T) {
			repo := newMemoryDiscountRepo()
			svc := NewDiscountService(repo, nil, newMemoryUsedCache(), DefaultDiscountOptions())

			result, err := svc.GenerateCodes(context.Background(), count)
			if err != nil {
				t.Fatalf("generate codes failed: %v", err)
			}
			if !result.Success || result.RequestedCount != count || result.GeneratedCount != count {
				t.Fatalf("unexpected result: %+v", result)
			}
			codes := repo.codes()
			if len(codes) != count {
				t.Fatalf("persisted want %d got %d", count, len(codes))
			}
			for _, code := range codes {
				if !isValidDiscountCode(code) {
					t.Fatalf("invalid code persisted: %q", code)
				}
			}
			if repo.insertCalls.Load() != 1 {
				t.Fatalf("bulk insert should run once, got %d", repo.insertCalls.Load())
			}
			wantBatches := int32((count + 99) / 100)
			if repo.existingCalls.Load() != wantBatches {
				t.Fatalf("existence checks want %d got %d", wantBatches, repo.existingCalls.Load())
			}
		})
	}
}

func TestDiscountServiceGenerateCodesInvalidCount(t *testing.T) {
	for _, count := range []int{0, -1, 2001} {
		repo := newMemoryDiscountRepo()
		svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())

		result, err := svc.GenerateCodes(context.Background(), count)
		if !errors.Is(err, ErrDiscountCountInvalid) {
			t.Fatalf("count %d: expected ErrDiscountCountInvalid, got %v", count, err)
		}
		if result != nil {
			t.Fatalf("count %d: result should be nil, got %+v", count, result)
		}
		if repo.existingCalls.Load() != 0 || repo.insertCalls.Load() != 0 {
			t.Fatalf("count %d: store should not be touched", count)
		}
	}
}

func TestDiscountServiceGenerateCodesAbsorbsBatchDuplicates(t *testing.T) {
	repo := newMemoryDiscountRepo()
	gen := &sequenceGenerator{values: []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB", "CCCCCCCC", "DDDDDDDD", "EEEEEEEE"}}
	svc := NewDiscountService(repo, gen, nil, DefaultDiscountOptions())

	result, err := svc.GenerateCodes(context.Background(), 5)
	if err != nil {
		t.Fatalf("generate codes failed: %v", err)
	}
	if !result.Success || result.GeneratedCount != 5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gen.calls != 6 {
		t.Fatalf("generator calls want 6 got %d", gen.calls)
	}
	persisted := make(map[string]struct{})
	for _, code := range repo.codes() {
		persisted[code] = struct{}{}
	}
	for _, want := range []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC", "DDDDDDDD", "EEEEEEEE"} {
		if _, ok := persisted[want]; !ok {
			t.Fatalf("expected %s to be persisted, got %v", want, persisted)
		}
	}
}

func TestDiscountServiceGenerateCodesSkipsExistingValues(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.seed("AAAAAAAA", nil)
	gen := &sequenceGenerator{values: []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC", "DDDDDDDD"}}
	svc := NewDiscountService(repo, gen, nil, DefaultDiscountOptions())

	result, err := svc.GenerateCodes(context.Background(), 3)
	if err != nil {
		t.Fatalf("generate codes failed: %v", err)
	}
	if !result.Success || result.GeneratedCount != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.existingCalls.Load() != 2 {
		t.Fatalf("a colliding batch should trigger a second round, got %d checks", repo.existingCalls.Load())
	}
	if len(repo.codes()) != 4 {
		t.Fatalf("store should hold the seed plus 3 new codes, got %d", len(repo.codes()))
	}
}

func TestDiscountServiceGenerateCodesRetryBudgetExhausted(t *testing.T) {
	repo := newMemoryDiscountRepo()
	// 除 FRESH001 外全部报告为已存在
	values := []string{"FRESH001"}
	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("TAKEN%03d", i)
		values = append(values, code)
		repo.preset[code] = struct{}{}
	}
	gen := &sequenceGenerator{values: values}
	svc := NewDiscountService(repo, gen, nil, DefaultDiscountOptions())

	result, err := svc.GenerateCodes(context.Background(), 4)
	if err != nil {
		t.Fatalf("short generation should not be an error: %v", err)
	}
	if result.Success {
		t.Fatalf("result should report failure: %+v", result)
	}
	if result.RequestedCount != 4 || result.GeneratedCount != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	// 预算 4*3=12：批次 4 + 3 + 3 + 3 = 13 次尝试后停止
	if gen.calls != 13 {
		t.Fatalf("generator calls want 13 got %d", gen.calls)
	}
	if repo.insertCalls.Load() != 1 {
		t.Fatalf("accepted codes should still be inserted once, got %d", repo.insertCalls.Load())
	}
}

func TestDiscountServiceGenerateCodesNothingAccepted(t *testing.T) {
	repo := newMemoryDiscountRepo()
	values := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		code := fmt.Sprintf("TAKEN%03d", i)
		values = append(values, code)
		repo.preset[code] = struct{}{}
	}
	svc := NewDiscountService(repo, &sequenceGenerator{values: values}, nil, DefaultDiscountOptions())

	result, err := svc.GenerateCodes(context.Background(), 1)
	if err != nil {
		t.Fatalf("generate codes failed: %v", err)
	}
	if result.Success || result.GeneratedCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.insertCalls.Load() != 0 {
		t.Fatalf("empty result should skip bulk insert")
	}
}

func TestDiscountServiceGenerateCodesCanceled(t *testing.T) {
	repo := newMemoryDiscountRepo()
	svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GenerateCodes(ctx, 10)
	if !errors.Is(err, ErrDiscountCanceled) {
		t.Fatalf("expected ErrDiscountCanceled, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("context error should be preserved, got %v", err)
	}
	if repo.insertCalls.Load() != 0 {
		t.Fatalf("canceled generation must not insert")
	}
}

// cancelingRepo 在第一次存在性检查后取消上下文
type cancelingRepo struct {
	*memoryDiscountRepo
	cancel context.CancelFunc
}

func (r *cancelingRepo) ListExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	result, err := r.memoryDiscountRepo.ListExistingCodes(ctx, codes)
	r.cancel()
	return result, err
}

func TestDiscountServiceGenerateCodesCanceledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &cancelingRepo{memoryDiscountRepo: newMemoryDiscountRepo(), cancel: cancel}
	svc := NewDiscountService(repo, &counterGenerator{}, nil, DefaultDiscountOptions())

	_, err := svc.GenerateCodes(ctx, 250)
	if !errors.Is(err, ErrDiscountCanceled) {
		t.Fatalf("expected ErrDiscountCanceled, got %v", err)
	}
	if repo.existingCalls.Load() != 1 {
		t.Fatalf("loop should stop after the first batch, got %d checks", repo.existingCalls.Load())
	}
	if repo.insertCalls.Load() != 0 || len(repo.codes()) != 0 {
		t.Fatalf("canceled cycle must not commit anything")
	}
}

func TestDiscountServiceGenerateCodesStoreFailure(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.failErr = errors.New("connection refused: host=db.internal")
	svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())

	_, err := svc.GenerateCodes(context.Background(), 5)
	if !errors.Is(err, ErrDiscountGenerateFailed) {
		t.Fatalf("expected ErrDiscountGenerateFailed, got %v", err)
	}
	if strings.Contains(err.Error(), "db.internal") {
		t.Fatalf("internal detail should not leak: %v", err)
	}
}

func TestDiscountServiceGenerateCodesGeneratorFailure(t *testing.T) {
	repo := newMemoryDiscountRepo()
	svc := NewDiscountService(repo, &sequenceGenerator{}, nil, DefaultDiscountOptions())

	_, err := svc.GenerateCodes(context.Background(), 5)
	if !errors.Is(err, ErrDiscountGenerateFailed) {
		t.Fatalf("expected ErrDiscountGenerateFailed, got %v", err)
	}
	if repo.insertCalls.Load() != 0 {
		t.Fatalf("generator failure must not insert")
	}
}

// blockingRepo 在存在性检查中阻塞，直到测试放行
type blockingRepo struct {
	*memoryDiscountRepo
	entered chan struct{}
	release chan struct{}
	inside  atomic.Int32
	maxSeen atomic.Int32
}

func (r *blockingRepo) ListExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	current := r.inside.Add(1)
	defer r.inside.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if current <= seen || r.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.memoryDiscountRepo.ListExistingCodes(ctx, codes)
}

func TestDiscountServiceGenerateCodesWaitingCallerCanCancel(t *testing.T) {
	repo := &blockingRepo{
		memoryDiscountRepo: newMemoryDiscountRepo(),
		entered:            make(chan struct{}, 1),
		release:            make(chan struct{}),
	}
	svc := NewDiscountService(repo, &counterGenerator{}, nil, DefaultDiscountOptions())

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.GenerateCodes(context.Background(), 5)
		firstDone <- err
	}()
	<-repo.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.GenerateCodes(ctx, 5)
	if !errors.Is(err, ErrDiscountCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting caller should observe its deadline, got %v", err)
	}

	close(repo.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first caller should complete: %v", err)
	}
	if len(repo.codes()) != 5 {
		t.Fatalf("only the first caller's codes should be persisted, got %d", len(repo.codes()))
	}
}

func TestDiscountServiceGenerateCodesIsSerialized(t *testing.T) {
	repo := &blockingRepo{
		memoryDiscountRepo: newMemoryDiscountRepo(),
		entered:            make(chan struct{}, 8),
		release:            make(chan struct{}),
	}
	close(repo.release)
	svc := NewDiscountService(repo, &counterGenerator{}, nil, DefaultDiscountOptions())

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := svc.GenerateCodes(context.Background(), 150)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent generation failed: %v", err)
	}
	if repo.maxSeen.Load() != 1 {
		t.Fatalf("generation cycles overlapped: max concurrent=%d", repo.maxSeen.Load())
	}
	if len(repo.codes()) != 8*150 {
		t.Fatalf("persisted want %d got %d", 8*150, len(repo.codes()))
	}
}

func TestDiscountServiceRedeemCode(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.seed("FRESH001", nil)
	usedCache := newMemoryUsedCache()
	svc := NewDiscountService(repo, nil, usedCache, DefaultDiscountOptions())
	ctx := context.Background()

	ok, err := svc.RedeemCode(ctx, "FRESH001")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if !ok {
		t.Fatalf("fresh code should be redeemed")
	}
	record, _ := repo.GetByCode(ctx, "FRESH001")
	if record == nil || !record.Used() || !record.IsUsed {
		t.Fatalf("record should be marked used: %+v", record)
	}
	if ttl, cached := usedCache.ttl("FRESH001"); !cached || ttl != 24*time.Hour {
		t.Fatalf("redeemed code should be cached for 24h, cached=%v ttl=%s", cached, ttl)
	}

	getsBefore := repo.getCalls.Load()
	ok, err = svc.RedeemCode(ctx, "FRESH001")
	if err != nil {
		t.Fatalf("second redeem failed: %v", err)
	}
	if ok {
		t.Fatalf("second redeem should fail")
	}
	if repo.getCalls.Load() != getsBefore {
		t.Fatalf("warm cache should skip the store read")
	}
	if repo.markCalls.Load() != 1 {
		t.Fatalf("update should run exactly once, got %d", repo.markCalls.Load())
	}
}

func TestDiscountServiceRedeemCodeNotFound(t *testing.T) {
	repo := newMemoryDiscountRepo()
	usedCache := newMemoryUsedCache()
	svc := NewDiscountService(repo, nil, usedCache, DefaultDiscountOptions())

	ok, err := svc.RedeemCode(context.Background(), "MISSING1")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if ok {
		t.Fatalf("unknown code should not be redeemed")
	}
	if repo.getCalls.Load() != 1 {
		t.Fatalf("unknown code should be looked up once, got %d", repo.getCalls.Load())
	}
	if repo.markCalls.Load() != 0 {
		t.Fatalf("unknown code should never reach the update path")
	}
	if _, cached := usedCache.ttl("MISSING1"); cached {
		t.Fatalf("unknown code should not be cached as used")
	}
}

func TestDiscountServiceRedeemCodeAlreadyUsed(t *testing.T) {
	repo := newMemoryDiscountRepo()
	usedAt := time.Now().Add(-time.Hour).UTC()
	repo.seed("USED0001", &usedAt)
	usedCache := newMemoryUsedCache()
	svc := NewDiscountService(repo, nil, usedCache, DefaultDiscountOptions())

	ok, err := svc.RedeemCode(context.Background(), "USED0001")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if ok {
		t.Fatalf("used code should not be redeemed")
	}
	if repo.markCalls.Load() != 0 {
		t.Fatalf("used code should never reach the update path")
	}
	if _, cached := usedCache.ttl("USED0001"); !cached {
		t.Fatalf("used code should be cached after the store check")
	}
	record, _ := repo.GetByCode(context.Background(), "USED0001")
	if !record.UsedAt.Equal(usedAt) {
		t.Fatalf("used_at must not change, got %s want %s", record.UsedAt, usedAt)
	}
}

func TestDiscountServiceRedeemCodeMalformedInput(t *testing.T) {
	repo := newMemoryDiscountRepo()
	usedCache := newMemoryUsedCache()
	svc := NewDiscountService(repo, nil, usedCache, DefaultDiscountOptions())

	for _, input := range []string{"", "   ", "        ", "ABCDE", "ABCDEFGHIJK"} {
		ok, err := svc.RedeemCode(context.Background(), input)
		if err != nil {
			t.Fatalf("input %q: unexpected error %v", input, err)
		}
		if ok {
			t.Fatalf("input %q: should not be redeemed", input)
		}
	}
	if repo.getCalls.Load() != 0 || repo.markCalls.Load() != 0 {
		t.Fatalf("malformed input should never reach the store")
	}
}

func TestDiscountServiceRedeemCodeCacheReadFailureFallsBackToStore(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.seed("FRESH002", nil)
	usedCache := newMemoryUsedCache()
	usedCache.readErr = errors.New("redis: connection pool timeout")
	svc := NewDiscountService(repo, nil, usedCache, DefaultDiscountOptions())

	ok, err := svc.RedeemCode(context.Background(), "FRESH002")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if !ok {
		t.Fatalf("cache failure should not block redemption")
	}
}

func TestDiscountServiceRedeemCodeWithoutCache(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.seed("NOCACHE1", nil)
	svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())
	ctx := context.Background()

	first, err := svc.RedeemCode(ctx, "NOCACHE1")
	if err != nil || !first {
		t.Fatalf("first redeem want true got %v err=%v", first, err)
	}
	second, err := svc.RedeemCode(ctx, "NOCACHE1")
	if err != nil || second {
		t.Fatalf("second redeem want false got %v err=%v", second, err)
	}
	if repo.getCalls.Load() != 2 {
		t.Fatalf("without a cache every attempt should consult the store, got %d", repo.getCalls.Load())
	}
}

func TestDiscountServiceRedeemCodeStoreFailure(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.failErr = errors.New("pq: password authentication failed for user discount")
	svc := NewDiscountService(repo, nil, newMemoryUsedCache(), DefaultDiscountOptions())

	ok, err := svc.RedeemCode(context.Background(), "FAIL0001")
	if !errors.Is(err, ErrDiscountRedeemFailed) {
		t.Fatalf("expected ErrDiscountRedeemFailed, got %v", err)
	}
	if ok {
		t.Fatalf("failed redeem should not report success")
	}
	if strings.Contains(err.Error(), "password") {
		t.Fatalf("internal detail should not leak: %v", err)
	}
}

func TestDiscountServiceRedeemCodeCanceled(t *testing.T) {
	repo := newMemoryDiscountRepo()
	repo.failErr = context.Canceled
	svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())

	_, err := svc.RedeemCode(context.Background(), "CANCEL01")
	if !errors.Is(err, ErrDiscountCanceled) {
		t.Fatalf("expected ErrDiscountCanceled, got %v", err)
	}
}

// barrierRepo 让并发兑换者在读取记录后会合，再一起进入更新
type barrierRepo struct {
	repository.DiscountCodeRepository
	arrived sync.WaitGroup
}

func (r *barrierRepo) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	record, err := r.DiscountCodeRepository.GetByCode(ctx, code)
	r.arrived.Done()
	r.arrived.Wait()
	return record, err
}

func TestDiscountServiceRedeemCodeConcurrentSameCode(t *testing.T) {
	const callers = 8
	base := newMemoryDiscountRepo()
	base.seed("RACE0001", nil)
	repo := &barrierRepo{DiscountCodeRepository: base}
	repo.arrived.Add(callers)
	svc := NewDiscountService(repo, nil, newMemoryUsedCache(), DefaultDiscountOptions())

	var redeemed atomic.Int32
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			ok, err := svc.RedeemCode(context.Background(), "RACE0001")
			if ok {
				redeemed.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent redeem failed: %v", err)
	}
	if redeemed.Load() != 1 {
		t.Fatalf("exactly one caller should redeem, got %d", redeemed.Load())
	}
	if base.markCalls.Load() != callers {
		t.Fatalf("every caller should have raced into the update, got %d", base.markCalls.Load())
	}
}

func TestDiscountServiceRedeemCodeConcurrentDifferentCodes(t *testing.T) {
	repo := newMemoryDiscountRepo()
	codes := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		code := fmt.Sprintf("PARA%04d", i)
		repo.seed(code, nil)
		codes = append(codes, code)
	}
	svc := NewDiscountService(repo, nil, newMemoryUsedCache(), DefaultDiscountOptions())

	var redeemed atomic.Int32
	var g errgroup.Group
	for _, code := range codes {
		g.Go(func() error {
			ok, err := svc.RedeemCode(context.Background(), code)
			if ok {
				redeemed.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent redeem failed: %v", err)
	}
	if redeemed.Load() != int32(len(codes)) {
		t.Fatalf("every distinct code should redeem once, got %d", redeemed.Load())
	}
}

func TestDiscountServiceListAndStats(t *testing.T) {
	repo := newMemoryDiscountRepo()
	usedAt := time.Now().UTC()
	repo.seed("STAT0001", &usedAt)
	repo.seed("STAT0002", nil)
	svc := NewDiscountService(repo, nil, nil, DefaultDiscountOptions())
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Used != 1 || stats.Unused != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if _, _, err := svc.ListCodes(ctx, DiscountListInput{Status: "expired"}); !errors.Is(err, ErrDiscountListInvalid) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}
	records, total, err := svc.ListCodes(ctx, DiscountListInput{Status: "USED", Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(records) != 2 {
		t.Fatalf("unexpected list result total=%d len=%d", total, len(records))
	}
}

func TestDiscountOptionsFallbacks(t *testing.T) {
	opts := normalizeDiscountOptions(DiscountOptions{BatchSize: 10})
	if opts.BatchSize != 10 {
		t.Fatalf("explicit batch size should be kept, got %d", opts.BatchSize)
	}
	if opts.CodeLength != 8 || opts.MaxGenerateCount != 2000 || opts.RetryMultiplier != 3 || opts.UsedCacheTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if got := normalizeDiscountOptions(DiscountOptions{CodeLength: 40}).CodeLength; got != DiscountCodeLength {
		t.Fatalf("code length wider than the column should fall back, got %d", got)
	}
}

func setupDiscountServiceSQLiteTest(t *testing.T) (*DiscountService, *repository.GormDiscountCodeRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:discount_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	repo := repository.NewDiscountCodeRepository(db)
	return NewDiscountService(repo, nil, newMemoryUsedCache(), DefaultDiscountOptions()), repo, db
}

func TestDiscountServiceConcurrentGenerateAgainstSQLite(t *testing.T) {
	svc, _, db := setupDiscountServiceSQLiteTest(t)
	const callers = 5
	const count = 300

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			result, err := svc.GenerateCodes(context.Background(), count)
			if err != nil {
				return err
			}
			if !result.Success || result.GeneratedCount != count {
				return fmt.Errorf("unexpected result: %+v", result)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent generation failed: %v", err)
	}

	var total, distinct int64
	if err := db.Model(&models.DiscountCode{}).Count(&total).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if err := db.Model(&models.DiscountCode{}).Distinct("code").Count(&distinct).Error; err != nil {
		t.Fatalf("count distinct failed: %v", err)
	}
	if total != callers*count || distinct != total {
		t.Fatalf("want %d distinct codes, got total=%d distinct=%d", callers*count, total, distinct)
	}
}

func TestDiscountServiceConcurrentRedeemAgainstSQLite(t *testing.T) {
	svc, repo, _ := setupDiscountServiceSQLiteTest(t)
	ctx := context.Background()
	if _, err := repo.BulkInsert(ctx, []models.DiscountCode{{ID: "race-id", Code: "SQLRACE1", CreatedAt: time.Now().UTC()}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	const callers = 2
	barrier := &barrierRepo{DiscountCodeRepository: repo}
	barrier.arrived.Add(callers)
	svc.repo = barrier

	results := make(chan bool, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			ok, err := svc.RedeemCode(ctx, "SQLRACE1")
			results <- ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent redeem failed: %v", err)
	}
	close(results)
	redeemed := 0
	for ok := range results {
		if ok {
			redeemed++
		}
	}
	if redeemed != 1 {
		t.Fatalf("exactly one caller should redeem, got %d", redeemed)
	}
}
