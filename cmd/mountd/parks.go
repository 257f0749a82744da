package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unklstewy/mountcore/internal/db"
	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/internal/mount"
	"github.com/unklstewy/mountcore/pkg/config"
	"github.com/unklstewy/mountcore/pkg/coordinates"
)

// parkStore serves park positions from PostgreSQL and reconnects when the
// connection drops.
type parkStore struct {
	mu   sync.Mutex
	conn *db.DB
	repo *db.ParkRepository

	cfg  config.DatabaseConfig
	mode string
	log  logging.Logger
}

func newParkStore(conn *db.DB, cfg config.DatabaseConfig, mode string, log logging.Logger) *parkStore {
	return &parkStore{
		conn: conn,
		repo: db.NewParkRepository(conn, mode),
		cfg:  cfg,
		mode: mode,
		log:  log,
	}
}

func (s *parkStore) repository() *db.ParkRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo
}

func (s *parkStore) GetPark(ctx context.Context, name string) (*mount.ParkPosition, error) {
	var row *db.ParkPosition
	err := db.WithRetry(ctx, s.log, func(ctx context.Context) error {
		var err error
		row, err = s.repository().Get(ctx, name)
		return err
	}, 2)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: %s", mount.ErrParkNotFound, name)
	}
	p := fromRow(*row)
	return &p, nil
}

func (s *parkStore) ListParks(ctx context.Context) ([]mount.ParkPosition, error) {
	var rows []db.ParkPosition
	err := db.WithRetry(ctx, s.log, func(ctx context.Context) error {
		var err error
		rows, err = s.repository().List(ctx)
		return err
	}, 2)
	if err != nil {
		return nil, err
	}
	parks := make([]mount.ParkPosition, 0, len(rows))
	for _, r := range rows {
		parks = append(parks, fromRow(r))
	}
	return parks, nil
}

func (s *parkStore) SavePark(ctx context.Context, p mount.ParkPosition) error {
	row := toRow(p)
	return db.WithRetry(ctx, s.log, func(ctx context.Context) error {
		return s.repository().Save(ctx, &row)
	}, 2)
}

// keepAlive checks the connection every interval until ctx is done.
func (s *parkStore) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		fresh, err := db.EnsureConnection(ctx, s.log, conn, s.cfg)
		if err != nil {
			s.log.Warn(ctx, "park database unavailable", logging.Err(err))
			continue
		}
		if fresh != conn {
			s.mu.Lock()
			s.conn = fresh
			s.repo = db.NewParkRepository(fresh, s.mode)
			s.mu.Unlock()
		}
	}
}

func (s *parkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func fromRow(r db.ParkPosition) mount.ParkPosition {
	return mount.ParkPosition{Name: r.Name, Axes: coordinates.Axes{r.X, r.Y}}
}

func toRow(p mount.ParkPosition) db.ParkPosition {
	return db.ParkPosition{Name: p.Name, X: p.Axes[0], Y: p.Axes[1]}
}
