package profiles

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("profile not found")

// Store mirrors Repository so handlers can be tested in memory.
type Store interface {
	Upsert(ctx context.Context, p UpsertParams) (*Profile, error)
	GetBySlug(ctx context.Context, slug string) (*Profile, error)
	List(ctx context.Context, trade string) ([]*Profile, error)
}

// RatingSource recomputes a tradesperson's rating from their reviews.
type RatingSource interface {
	AverageForTradesperson(ctx context.Context, tradespersonID uuid.UUID) (avg float64, count int, err error)
}

type Service struct {
	store   Store
	ratings RatingSource
}

func NewService(store Store, ratings RatingSource) *Service {
	return &Service{store: store, ratings: ratings}
}

var slugSanitize = regexp.MustCompile(`[^a-z0-9-]+`)

// normalizeTrades lowercases each trade so directory filters are
// case-insensitive.
func normalizeTrades(trades []string) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func slugFromName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugSanitize.ReplaceAllString(s, "")
	if s == "" {
		s = "trader"
	}
	return s + "-" + uuid.New().String()[:8]
}

type UpsertInput struct {
	BusinessName    string
	Bio             string
	Trades          []string
	Postcode        string
	YearsExperience int
}

func (s *Service) Upsert(ctx context.Context, userID uuid.UUID, in UpsertInput) (*Profile, error) {
	if in.BusinessName == "" {
		return nil, errors.New("business name is required")
	}
	trades := normalizeTrades(in.Trades)
	if len(trades) == 0 {
		return nil, errors.New("at least one trade is required")
	}
	return s.store.Upsert(ctx, UpsertParams{
		UserID:          userID,
		BusinessName:    in.BusinessName,
		Slug:            slugFromName(in.BusinessName),
		Bio:             in.Bio,
		Trades:          trades,
		Postcode:        strings.ToUpper(strings.TrimSpace(in.Postcode)),
		YearsExperience: in.YearsExperience,
	})
}

// ProfileView is a directory entry with its live rating.
type ProfileView struct {
	Profile
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
}

func (s *Service) GetBySlug(ctx context.Context, slug string) (*ProfileView, error) {
	p, err := s.store.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.withRating(ctx, p)
}

func (s *Service) List(ctx context.Context, trade string) ([]*ProfileView, error) {
	list, err := s.store.List(ctx, strings.ToLower(strings.TrimSpace(trade)))
	if err != nil {
		return nil, err
	}
	out := make([]*ProfileView, 0, len(list))
	for _, p := range list {
		v, err := s.withRating(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) withRating(ctx context.Context, p *Profile) (*ProfileView, error) {
	avg, count, err := s.ratings.AverageForTradesperson(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{Profile: *p, AverageRating: avg, ReviewCount: count}, nil
}
