package gallery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	apperrors "go-symmetry-console/internal/errors"
	"go-symmetry-console/pkg/models"
)

type listCall struct {
	limit, offset int
	sortBy        models.SortKey
}

type fakeClient struct {
	mu        sync.Mutex
	lists     []listCall
	listFn    func(call int, sortBy models.SortKey) (*models.GalleryPage, error)
	removeFn  func(id string) error
	removed   []string
	statsResp *models.GalleryStats
}

func (f *fakeClient) ListGallery(ctx context.Context, limit, offset int, sortBy models.SortKey) (*models.GalleryPage, error) {
	f.mu.Lock()
	f.lists = append(f.lists, listCall{limit, offset, sortBy})
	call := len(f.lists)
	f.mu.Unlock()
	return f.listFn(call, sortBy)
}

func (f *fakeClient) Remove(ctx context.Context, id string) error {
	if f.removeFn != nil {
		if err := f.removeFn(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) Stats(ctx context.Context) (*models.GalleryStats, error) {
	return f.statsResp, nil
}

func at(hour int) models.Timestamp {
	return models.NewTimestamp(time.Date(2025, 10, 18, hour, 0, 0, 0, time.UTC))
}

func item(id string, score float64, hour int) models.GalleryItem {
	return models.GalleryItem{AnalysisID: id, SymmetryScore: score, Timestamp: at(hour)}
}

func threeItems() *models.GalleryPage {
	// deliberately not in any order so local re-derivation is exercised
	return &models.GalleryPage{Total: 3, Items: []models.GalleryItem{
		item("b", 40, 11),
		item("c", 95, 9),
		item("a", 70, 12),
	}}
}

func staticList(page *models.GalleryPage) func(int, models.SortKey) (*models.GalleryPage, error) {
	return func(int, models.SortKey) (*models.GalleryPage, error) {
		cp := *page
		cp.Items = append([]models.GalleryItem(nil), page.Items...)
		return &cp, nil
	}
}

func ids(items []models.GalleryItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.AnalysisID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSynchronizer_LoadThenDelete(t *testing.T) {
	client := &fakeClient{listFn: staticList(threeItems())}
	s := NewSynchronizer(client, 50, nil)

	view, err := s.Load(context.Background(), models.SortByTimestamp)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if client.lists[0] != (listCall{50, 0, models.SortByTimestamp}) {
		t.Errorf("Unexpected list call %+v", client.lists[0])
	}
	if view.Status != StatusReady || view.Total != 3 {
		t.Errorf("Expected ready view with 3 items, got %+v", view)
	}
	if got := ids(view.Items); !equalIDs(got, []string{"a", "b", "c"}) {
		t.Fatalf("Expected newest first [a b c], got %v", got)
	}

	target := view.Items[1].AnalysisID
	view, err = s.Delete(context.Background(), target)
	if err != nil {
		t.Fatalf("Expected delete to succeed, got %v", err)
	}
	if len(view.Items) != 2 || view.Total != 2 {
		t.Errorf("Expected exactly 2 items left, got %+v", view)
	}
	for _, it := range view.Items {
		if it.AnalysisID == target {
			t.Errorf("Expected %s to be gone", target)
		}
	}
}

func TestSynchronizer_DeleteFailureLeavesViewUnchanged(t *testing.T) {
	client := &fakeClient{
		listFn: staticList(threeItems()),
		removeFn: func(id string) error {
			return apperrors.NewRemoteError(http.StatusInternalServerError, "Error deleting analysis")
		},
	}
	s := NewSynchronizer(client, 50, nil)
	before, _ := s.Load(context.Background(), models.SortByScore)

	after, err := s.Delete(context.Background(), "a")
	if !apperrors.IsKind(err, apperrors.KindRemote) {
		t.Fatalf("Expected remote error, got %v", err)
	}
	if after.Total != before.Total || !equalIDs(ids(after.Items), ids(before.Items)) {
		t.Errorf("Expected unchanged view, before %+v after %+v", before, after)
	}
	for i := range before.Items {
		if before.Items[i] != after.Items[i] {
			t.Errorf("Expected item %d unchanged", i)
		}
	}
	if after.Status != StatusReady || after.Error != nil {
		t.Errorf("Expected delete failure not to alter view state, got %+v", after)
	}
}

func TestSynchronizer_SortOrders(t *testing.T) {
	client := &fakeClient{listFn: staticList(threeItems())}
	s := NewSynchronizer(client, 50, nil)

	view, _ := s.Load(context.Background(), models.SortByScore)
	for i := 1; i < len(view.Items); i++ {
		if view.Items[i-1].SymmetryScore < view.Items[i].SymmetryScore {
			t.Errorf("Expected descending score, got %v", view.Items)
		}
	}

	view, _ = s.ChangeSort(context.Background(), models.SortByTimestamp)
	for i := 1; i < len(view.Items); i++ {
		if view.Items[i-1].Timestamp.Before(view.Items[i].Timestamp.Time) {
			t.Errorf("Expected descending timestamp, got %v", view.Items)
		}
	}
	if view.SortBy != models.SortByTimestamp {
		t.Errorf("Expected sort key timestamp, got %s", view.SortBy)
	}
	if len(client.lists) != 2 || client.lists[1].sortBy != models.SortByTimestamp {
		t.Errorf("Expected a full reload on sort change, got %+v", client.lists)
	}
}

func TestSynchronizer_StableTies(t *testing.T) {
	page := &models.GalleryPage{Total: 3, Items: []models.GalleryItem{
		item("x", 50, 10), item("y", 50, 11), item("z", 50, 12),
	}}
	s := NewSynchronizer(&fakeClient{listFn: staticList(page)}, 50, nil)

	view, _ := s.Load(context.Background(), models.SortByScore)
	if got := ids(view.Items); !equalIDs(got, []string{"x", "y", "z"}) {
		t.Errorf("Expected service order for equal scores, got %v", got)
	}
}

func TestSynchronizer_EmptyAndError(t *testing.T) {
	fail := true
	client := &fakeClient{listFn: func(int, models.SortKey) (*models.GalleryPage, error) {
		if fail {
			return nil, apperrors.NewNetworkError("analysis service unreachable", errors.New("refused"))
		}
		return &models.GalleryPage{Total: 0}, nil
	}}
	s := NewSynchronizer(client, 50, nil)

	view, err := s.Load(context.Background(), models.SortByTimestamp)
	if err == nil || view.Status != StatusError || view.Error == nil {
		t.Fatalf("Expected error view, got %+v (%v)", view, err)
	}
	if len(view.Items) != 0 {
		t.Error("Expected items cleared on failure")
	}

	fail = false
	view, err = s.Retry(context.Background())
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if view.Status != StatusEmpty || view.Error != nil {
		t.Errorf("Expected empty view, got %+v", view)
	}
}

func TestSynchronizer_DeleteLastItemEmpties(t *testing.T) {
	page := &models.GalleryPage{Total: 1, Items: []models.GalleryItem{item("only", 10, 1)}}
	s := NewSynchronizer(&fakeClient{listFn: staticList(page)}, 50, nil)
	s.Load(context.Background(), models.SortByTimestamp)

	view, err := s.Delete(context.Background(), "only")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != StatusEmpty || view.Total != 0 {
		t.Errorf("Expected empty view, got %+v", view)
	}
}

func TestSynchronizer_LatestLoadWins(t *testing.T) {
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	client := &fakeClient{listFn: func(call int, sortBy models.SortKey) (*models.GalleryPage, error) {
		if call == 1 {
			close(firstStarted)
			<-releaseFirst
			return &models.GalleryPage{Total: 1, Items: []models.GalleryItem{item("old", 10, 1)}}, nil
		}
		return &models.GalleryPage{Total: 1, Items: []models.GalleryItem{item("new", 90, 2)}}, nil
	}}
	s := NewSynchronizer(client, 50, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), models.SortByTimestamp)
		errs <- err
	}()
	<-firstStarted

	view, err := s.Load(context.Background(), models.SortByScore)
	if err != nil {
		t.Fatalf("Expected newer load to succeed, got %v", err)
	}
	close(releaseFirst)

	if err := <-errs; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Expected older load to be superseded, got %v", err)
	}
	view = s.View()
	if got := ids(view.Items); !equalIDs(got, []string{"new"}) || view.SortBy != models.SortByScore {
		t.Errorf("Expected newest load's data, got %v sorted by %s", got, view.SortBy)
	}
}

func TestSynchronizer_DeleteDuringLoadIsNotResurrected(t *testing.T) {
	loadStarted := make(chan struct{})
	releaseLoad := make(chan struct{})
	client := &fakeClient{listFn: func(call int, sortBy models.SortKey) (*models.GalleryPage, error) {
		if call == 2 {
			close(loadStarted)
			<-releaseLoad
		}
		return threeItems(), nil
	}}
	s := NewSynchronizer(client, 50, nil)
	s.Load(context.Background(), models.SortByTimestamp)

	done := make(chan View, 1)
	go func() {
		view, _ := s.Load(context.Background(), models.SortByTimestamp)
		done <- view
	}()
	<-loadStarted

	if _, err := s.Delete(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	close(releaseLoad)

	view := <-done
	for _, it := range view.Items {
		if it.AnalysisID == "b" {
			t.Error("Expected deleted item not to reappear from a load started before the delete")
		}
	}
	if view.Total != 2 {
		t.Errorf("Expected total 2, got %d", view.Total)
	}

	// a load started after the removal trusts the service again
	view, _ = s.Load(context.Background(), models.SortByTimestamp)
	if len(view.Items) != 3 {
		t.Errorf("Expected fresh load to show what the service returns, got %v", ids(view.Items))
	}
}

func TestSynchronizer_ConcurrentDeleteOfSameID(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{
		listFn: staticList(threeItems()),
		removeFn: func(id string) error {
			close(started)
			<-release
			return nil
		},
	}
	s := NewSynchronizer(client, 50, nil)
	s.Load(context.Background(), models.SortByTimestamp)

	done := make(chan error, 1)
	go func() {
		_, err := s.Delete(context.Background(), "a")
		done <- err
	}()
	<-started

	view, err := s.Delete(context.Background(), "a")
	if !errors.Is(err, ErrDeleteInProgress) {
		t.Errorf("Expected ErrDeleteInProgress, got %v", err)
	}
	if len(view.Deleting) != 1 || view.Deleting[0] != "a" {
		t.Errorf("Expected a to be marked as deleting, got %v", view.Deleting)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Expected first delete to succeed, got %v", err)
	}
	if got := len(s.View().Items); got != 2 {
		t.Errorf("Expected 2 items, got %d", got)
	}
}

func TestSynchronizer_InvalidSortKey(t *testing.T) {
	client := &fakeClient{listFn: staticList(threeItems())}
	s := NewSynchronizer(client, 50, nil)

	_, err := s.Load(context.Background(), models.SortKey("name"))
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("Expected invalid argument, got %v", err)
	}
	if len(client.lists) != 0 {
		t.Error("Expected no request for an invalid key")
	}
}

func TestSynchronizer_ListenersSeeTransitions(t *testing.T) {
	client := &fakeClient{listFn: staticList(threeItems())}
	s := NewSynchronizer(client, 50, nil)

	var statuses []Status
	s.Subscribe(func(v View) { statuses = append(statuses, v.Status) })
	s.Load(context.Background(), models.SortByTimestamp)

	if len(statuses) != 2 || statuses[0] != StatusLoading || statuses[1] != StatusReady {
		t.Errorf("Expected [loading ready], got %v", statuses)
	}
}

func TestNewSynchronizer_PageSizeFallback(t *testing.T) {
	client := &fakeClient{listFn: staticList(&models.GalleryPage{})}
	s := NewSynchronizer(client, 0, nil)
	s.Load(context.Background(), models.SortByTimestamp)
	if client.lists[0].limit != DefaultPageSize {
		t.Errorf("Expected default page size, got %d", client.lists[0].limit)
	}
}
