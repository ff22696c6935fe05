package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process catalog used when no MongoDB is configured.
type Memory struct {
	mu     sync.RWMutex
	movies map[string]Movie
	users  map[int64]User
}

func NewMemory() *Memory {
	return &Memory{movies: map[string]Movie{}, users: map[int64]User{}}
}

// PutMovie stores mv as is after validation.
func (s *Memory) PutMovie(mv Movie) error {
	if mv.NormalizedTitle == "" {
		mv.NormalizedTitle = NormalizeName(mv.Title)
	}
	if err := mv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[mv.Code] = cloneMovie(mv)
	return nil
}

func (s *Memory) UpsertUser(_ context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[id]
	if !ok {
		u = User{ID: id, FirstSeen: now}
	}
	u.Username = strings.TrimSpace(username)
	u.LastSeen = now
	s.users[id] = u
	return nil
}

func (s *Memory) User(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Memory) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Memory) UserIDs(_ context.Context, fn func(id int64) error) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Memory) GetMovie(_ context.Context, code string) (*Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mv, ok := s.movies[code]
	if !ok {
		return nil, nil
	}
	out := cloneMovie(mv)
	return &out, nil
}

func (s *Memory) GetMovieByTitle(_ context.Context, title string) (*Movie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mv, ok := s.byTitle(NormalizeName(title))
	if !ok {
		return nil, nil
	}
	out := cloneMovie(mv)
	return &out, nil
}

func (s *Memory) byTitle(norm string) (Movie, bool) {
	for _, mv := range s.movies {
		if mv.NormalizedTitle == norm {
			return mv, true
		}
	}
	return Movie{}, false
}

func (s *Memory) SearchMovies(_ context.Context, query string, limit int) ([]Movie, error) {
	words := strings.Fields(NormalizeName(query))
	if len(words) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Movie{}
	for _, mv := range s.movies {
		match := true
		for _, w := range words {
			if !strings.Contains(mv.NormalizedTitle, w) {
				match = false
				break
			}
		}
		if match {
			out = append(out, cloneMovie(mv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ListRecent(_ context.Context, limit int) ([]Movie, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Movie, 0, len(s.movies))
	for _, mv := range s.movies {
		out = append(out, cloneMovie(mv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CountMovies(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.movies)), nil
}

func (s *Memory) AddQuality(_ context.Context, title string, part int, label string, file QualityFile) (*Movie, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	mv, ok := s.byTitle(NormalizeName(title))
	if ok {
		mv = cloneMovie(mv)
	} else {
		code, err := NewCode()
		if err != nil {
			return nil, false, err
		}
		mv = Movie{
			Code:            code,
			Title:           strings.TrimSpace(title),
			NormalizedTitle: NormalizeName(title),
			Parts:           1,
			Qualities:       map[string]QualityFile{},
			CreatedAt:       now,
		}
	}
	mv.SetQuality(part, label, file)
	mv.UpdatedAt = now
	if err := mv.Validate(); err != nil {
		return nil, false, err
	}
	s.movies[mv.Code] = mv
	out := cloneMovie(mv)
	return &out, !ok, nil
}

func (s *Memory) DeleteQuality(_ context.Context, title string, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mv, ok := s.byTitle(NormalizeName(title))
	if !ok {
		return false, nil
	}
	mv = cloneMovie(mv)
	if !mv.RemoveQuality(label) {
		return false, nil
	}
	mv.UpdatedAt = time.Now().UTC()
	s.movies[mv.Code] = mv
	return true, nil
}

func (s *Memory) DeleteMovie(_ context.Context, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mv, ok := s.byTitle(NormalizeName(title))
	if !ok {
		return false, nil
	}
	delete(s.movies, mv.Code)
	return true, nil
}

func cloneMovie(mv Movie) Movie {
	out := mv
	out.Qualities = make(map[string]QualityFile, len(mv.Qualities))
	for k, v := range mv.Qualities {
		out.Qualities[k] = v
	}
	if mv.PartsData != nil {
		out.PartsData = make(map[string]PartData, len(mv.PartsData))
		for k, pd := range mv.PartsData {
			qs := make(map[string]QualityFile, len(pd.Qualities))
			for q, f := range pd.Qualities {
				qs[q] = f
			}
			out.PartsData[k] = PartData{Qualities: qs}
		}
	}
	return out
}
