package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"listingops/internal/client/listing"
	"listingops/internal/config"
	"listingops/internal/models"
)

// stubListing serves canned pages per place id and can fail whole places.
type stubListing struct {
	reviewPages map[string][]listing.ReviewPage
	photoPages  map[string][]listing.PhotoPage
	postPages   map[string][]listing.PostPage
	failPlaces  map[string]bool

	reviewCalls atomic.Int32
}

func (s *stubListing) ListReviews(ctx context.Context, placeID string, since *time.Time, pageToken string, pageSize int) (*listing.ReviewPage, error) {
	s.reviewCalls.Add(1)
	if s.failPlaces[placeID] {
		return nil, fmt.Errorf("stub: place %s unavailable", placeID)
	}
	pages := s.reviewPages[placeID]
	return pickPage(pages, pageToken)
}

func (s *stubListing) ListPhotos(ctx context.Context, placeID string, pageToken string, pageSize int) (*listing.PhotoPage, error) {
	if s.failPlaces[placeID] {
		return nil, fmt.Errorf("stub: place %s unavailable", placeID)
	}
	return pickPage(s.photoPages[placeID], pageToken)
}

func (s *stubListing) ListPosts(ctx context.Context, placeID string, pageToken string, pageSize int) (*listing.PostPage, error) {
	if s.failPlaces[placeID] {
		return nil, fmt.Errorf("stub: place %s unavailable", placeID)
	}
	return pickPage(s.postPages[placeID], pageToken)
}

func pickPage[T any](pages []T, pageToken string) (*T, error) {
	idx := 0
	if pageToken != "" {
		if _, err := fmt.Sscanf(pageToken, "page-%d", &idx); err != nil {
			return nil, fmt.Errorf("stub: bad page token %q", pageToken)
		}
	}
	if idx >= len(pages) {
		var empty T
		return &empty, nil
	}
	return &pages[idx], nil
}

func newSyncService(repo *stubRepo, client listing.Client) *SyncService {
	return &SyncService{
		Repo:       repo,
		Listing:    client,
		Reconciler: &Reconciler{Repo: repo},
		Config: config.SyncConfig{
			MaxConcurrency: 2,
			PageSize:       50,
			MaxPages:       5,
			FailThreshold:  0.5,
		},
	}
}

func seedStorefronts(repo *stubRepo, n int) []models.Storefront {
	out := make([]models.Storefront, 0, n)
	for i := 1; i <= n; i++ {
		sf := models.Storefront{
			ID:              uint64(i),
			Name:            fmt.Sprintf("shop-%d", i),
			ExternalPlaceID: fmt.Sprintf("place-%d", i),
		}
		repo.storefronts[sf.ID] = sf
		out = append(out, sf)
	}
	return out
}

func reviewPage(next string, items ...listing.Review) listing.ReviewPage {
	return listing.ReviewPage{Items: items, NextPageToken: next}
}

func photoPage(next string, items ...listing.Photo) listing.PhotoPage {
	return listing.PhotoPage{Items: items, NextPageToken: next}
}

func apiPhoto(id string, updateTime time.Time) listing.Photo {
	return listing.Photo{ExternalID: id, MediaURL: "https://cdn.example.com/" + id, UpdateTime: updateTime}
}

func apiReview(id string, updateTime time.Time) listing.Review {
	return listing.Review{ExternalID: id, Reviewer: "r", Rating: 4, UpdateTime: updateTime}
}

// startBatch creates and runs a batch synchronously so assertions are
// deterministic.
func startBatch(t *testing.T, svc *SyncService, repo *stubRepo, storefronts []models.Storefront, scope string) *models.SyncBatch {
	t.Helper()
	entities, ok := models.ParseScope(scope)
	if !ok {
		t.Fatalf("bad scope %q", scope)
	}
	batch := &models.SyncBatch{
		EntityScope:      scope,
		TotalStorefronts: len(storefronts),
		Status:           models.BatchPending,
	}
	if err := repo.CreateBatch(context.Background(), batch); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	now := time.Now().UTC()
	if ok, err := repo.UpdateBatchStatus(context.Background(), batch.ID, models.BatchPending, models.BatchRunning, &now); err != nil || !ok {
		t.Fatalf("start batch: ok=%v err=%v", ok, err)
	}
	svc.runBatch(context.Background(), batch, storefronts, entities, nil)
	return batch
}

func TestBatchPartialFailureStillFinishes(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 3)
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-1": {reviewPage("", apiReview("a1", ts(1, 10)))},
			"place-3": {reviewPage("", apiReview("c1", ts(1, 10)), apiReview("c2", ts(1, 11)))},
		},
		failPlaces: map[string]bool{"place-2": true},
	}
	svc := newSyncService(repo, client)

	batch := startBatch(t, svc, repo, storefronts, "review")

	final, _ := repo.GetBatchByID(context.Background(), batch.ID)
	if final.Status != models.BatchFinished {
		t.Fatalf("status=%s want finished (1 of 3 failed is under threshold)", final.Status)
	}

	outcomes, _ := repo.ListBatchOutcomes(context.Background(), batch.ID)
	view := FoldProgress(final, outcomes)
	if view.CompletedStorefronts != 3 {
		t.Fatalf("completed=%d want 3, errored storefronts still report", view.CompletedStorefronts)
	}
	if view.ErroredStorefronts != 1 {
		t.Fatalf("errored=%d want 1", view.ErroredStorefronts)
	}
	if view.TotalInserted != 3 {
		t.Fatalf("inserted=%d want 3", view.TotalInserted)
	}
	for _, result := range view.Results {
		if result.StorefrontID == 2 && result.Error == nil {
			t.Fatal("storefront 2 outcome should carry the error text")
		}
		if result.StorefrontID != 2 && result.Error != nil {
			t.Fatalf("storefront %d unexpectedly errored: %s", result.StorefrontID, *result.Error)
		}
	}
}

func TestBatchFailsAtThreshold(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 3)
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-3": {reviewPage("", apiReview("c1", ts(1, 10)))},
		},
		failPlaces: map[string]bool{"place-1": true, "place-2": true},
	}
	svc := newSyncService(repo, client)

	batch := startBatch(t, svc, repo, storefronts, "review")

	final, _ := repo.GetBatchByID(context.Background(), batch.ID)
	if final.Status != models.BatchFailed {
		t.Fatalf("status=%s want failed (2 of 3 is at threshold)", final.Status)
	}
}

func TestBatchCountersAreConserved(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 2)
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-1": {reviewPage("", apiReview("a1", ts(1, 10)), apiReview("a2", ts(1, 11)))},
			"place-2": {reviewPage("", apiReview("b1", ts(1, 10)))},
		},
	}
	svc := newSyncService(repo, client)

	batch := startBatch(t, svc, repo, storefronts, "review")

	outcomes, _ := repo.ListBatchOutcomes(context.Background(), batch.ID)
	sum := 0
	for _, o := range outcomes {
		sum += o.Inserted
	}
	final, _ := repo.GetBatchByID(context.Background(), batch.ID)
	view := FoldProgress(final, outcomes)
	if view.TotalInserted != sum {
		t.Fatalf("folded total %d != outcome sum %d", view.TotalInserted, sum)
	}
	if len(repo.reviews) != sum {
		t.Fatalf("stored reviews %d != reported inserts %d", len(repo.reviews), sum)
	}
}

func TestDuplicateOutcomeReportIsNoOp(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()

	outcome := &models.SyncBatchOutcome{BatchID: 1, StorefrontID: 1, Inserted: 5, ReportedAt: time.Now().UTC()}
	if ok, err := repo.InsertBatchOutcome(ctx, outcome); err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	dup := &models.SyncBatchOutcome{BatchID: 1, StorefrontID: 1, Inserted: 99, ReportedAt: time.Now().UTC()}
	if ok, err := repo.InsertBatchOutcome(ctx, dup); err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v, want no-op", ok, err)
	}

	outcomes, _ := repo.ListBatchOutcomes(ctx, 1)
	if len(outcomes) != 1 || outcomes[0].Inserted != 5 {
		t.Fatalf("outcomes=%+v want the original single row", outcomes)
	}
}

func TestSyncEntityFollowsPagination(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 1)
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-1": {
				reviewPage("page-1", apiReview("a1", ts(1, 10))),
				reviewPage("page-2", apiReview("a2", ts(1, 11))),
				reviewPage("", apiReview("a3", ts(1, 12))),
			},
		},
	}
	svc := newSyncService(repo, client)

	counts, err := svc.syncEntity(context.Background(), storefronts[0], models.EntityReview, nil)
	if err != nil {
		t.Fatalf("sync entity: %v", err)
	}
	if counts.Inserted != 3 {
		t.Fatalf("inserted=%d want 3 across pages", counts.Inserted)
	}
	if calls := client.reviewCalls.Load(); calls != 3 {
		t.Fatalf("review calls=%d want 3", calls)
	}
	cutoff, _ := repo.GetCutoff(context.Background(), 1, models.EntityReview)
	if cutoff == nil || cutoff.LastSeenExternalUpdateTime == nil || !cutoff.LastSeenExternalUpdateTime.Equal(ts(1, 12)) {
		t.Fatalf("cutoff=%+v want watermark %v", cutoff, ts(1, 12))
	}
}

func TestSyncEntityTruncatedPassDoesNotCommit(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 1)
	client := &stubListing{
		photoPages: map[string][]listing.PhotoPage{
			"place-1": {
				photoPage("page-1", apiPhoto("p1", ts(1, 10))),
				photoPage("", apiPhoto("p2", ts(1, 11))),
			},
		},
	}
	svc := newSyncService(repo, client)

	// Full run stores both photos.
	if _, err := svc.syncEntity(context.Background(), storefronts[0], models.EntityPhoto, nil); err != nil {
		t.Fatalf("setup sync: %v", err)
	}
	if len(repo.photos) != 2 {
		t.Fatalf("setup stored %d photos, want 2", len(repo.photos))
	}

	// With the page cap at 1 the second page is never fetched. The pass must
	// error out instead of committing, or p2 would be soft-deleted and the
	// watermark would move past a record we never saw.
	svc.Config.MaxPages = 1
	if _, err := svc.syncEntity(context.Background(), storefronts[0], models.EntityPhoto, nil); err == nil {
		t.Fatal("expected the capped pass to fail instead of committing")
	}
	if repo.photos[identityKey(1, "p2")].SoftDeleted {
		t.Fatal("p2 was only missing because the listing was truncated, it must stay active")
	}
	cutoff, _ := repo.GetCutoff(context.Background(), 1, models.EntityPhoto)
	if cutoff == nil || cutoff.LastSeenExternalUpdateTime == nil || !cutoff.LastSeenExternalUpdateTime.Equal(ts(1, 11)) {
		t.Fatalf("cutoff=%+v want the watermark left at %v", cutoff, ts(1, 11))
	}
}

func TestBatchFinalizesWhenOutcomeReportIsLost(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 2)
	repo.outcomeFailures = map[uint64]int{2: -1}
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-1": {reviewPage("", apiReview("a1", ts(1, 10)))},
			"place-2": {reviewPage("", apiReview("b1", ts(1, 10)))},
		},
	}
	svc := newSyncService(repo, client)

	batch := startBatch(t, svc, repo, storefronts, "review")

	// Storefront 2 synced but could never write its outcome row; the batch
	// still reaches a terminal state with the silent storefront counted as
	// errored (1 of 2 meets the 0.5 threshold).
	final, _ := repo.GetBatchByID(context.Background(), batch.ID)
	if !final.Status.Terminal() {
		t.Fatalf("status=%s, a lost report must not leave the batch running", final.Status)
	}
	if final.Status != models.BatchFailed {
		t.Fatalf("status=%s want failed", final.Status)
	}
}

func TestOutcomeInsertRetriesTransientFailure(t *testing.T) {
	repo := newStubRepo()
	storefronts := seedStorefronts(repo, 1)
	repo.outcomeFailures = map[uint64]int{1: 1}
	client := &stubListing{
		reviewPages: map[string][]listing.ReviewPage{
			"place-1": {reviewPage("", apiReview("a1", ts(1, 10)))},
		},
	}
	svc := newSyncService(repo, client)

	batch := startBatch(t, svc, repo, storefronts, "review")

	outcomes, _ := repo.ListBatchOutcomes(context.Background(), batch.ID)
	if len(outcomes) != 1 {
		t.Fatalf("outcomes=%d, one failed insert attempt should have been retried", len(outcomes))
	}
	final, _ := repo.GetBatchByID(context.Background(), batch.ID)
	if final.Status != models.BatchFinished {
		t.Fatalf("status=%s want finished", final.Status)
	}
}

func TestStartRejectsInvalidScope(t *testing.T) {
	repo := newStubRepo()
	seedStorefronts(repo, 1)
	svc := newSyncService(repo, &stubListing{})
	svc.BaseCtx = context.Background()

	if _, err := svc.Start(context.Background(), "reviews-and-things", nil, nil); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("err=%v want ErrInvalidScope", err)
	}
}

func TestStartRejectsUnknownStorefront(t *testing.T) {
	repo := newStubRepo()
	seedStorefronts(repo, 1)
	svc := newSyncService(repo, &stubListing{})
	svc.BaseCtx = context.Background()

	_, err := svc.Start(context.Background(), "review", []uint64{1, 42}, nil)
	if err == nil {
		t.Fatal("expected unknown storefront to be rejected before fan-out")
	}
}
