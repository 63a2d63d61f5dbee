package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"cbt-exam-service/internal/app"
	"cbt-exam-service/internal/config"
	"cbt-exam-service/internal/domain"
	"cbt-exam-service/internal/infra/memory"
	"cbt-exam-service/internal/infra/postgres"
	rediscache "cbt-exam-service/internal/infra/redis"
)

// services is the assembled engine plus the resources it holds open.
type services struct {
	bank    *app.QuestionBank
	catalog *app.ExamCatalog
	engine  *app.SessionEngine
	ledger  *app.ResultLedger
	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// buildServices selects Postgres or in-memory storage and Redis or in-memory caching from cfg.
func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	log := slog.Default()
	svc := &services{}

	var (
		store   app.Store
		loader  app.ExamLoader
		roster  app.ClassRoster
		records app.AcademicRecord
	)
	if cfg.Postgres.URL != "" {
		db := postgres.OpenDB(cfg.Postgres.URL)
		svc.closers = append(svc.closers, func() { _ = db.Close() })
		if err := migrateDB(ctx, db); err != nil {
			svc.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("connect postgres pool: %w", err)
		}
		svc.closers = append(svc.closers, pool.Close)

		pgRoster := postgres.NewRoster(db)
		pgRecords := postgres.NewAcademicRecord(db)
		if err := seedPostgres(ctx, cfg.Seed.Students, pgRoster, pgRecords); err != nil {
			svc.Close()
			return nil, err
		}
		store, loader, roster, records = postgres.NewStore(db), postgres.NewExamLoader(pool), pgRoster, pgRecords
		log.Info("using postgres storage")
	} else {
		memStore := memory.NewStore()
		memRoster := memory.NewRoster()
		memRecords := memory.NewAcademicRecord()
		seedMemory(cfg.Seed.Students, memRoster, memRecords)
		store, loader, roster, records = memStore, memStore, memRoster, memRecords
		log.Info("using in-memory storage")
	}

	cacheTTL := config.Duration(cfg.Exam.CacheTTL, 5*time.Minute)
	var cache app.ExamRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		cache = rediscache.NewExamCache(client, loader, config.Duration(cfg.Redis.TTL, cacheTTL))
		log.Info("using redis exam cache", "addr", cfg.Redis.Addr)
	} else {
		cache = memory.NewExamCache(loader, cacheTTL)
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithImportConcurrency(cfg.ImportConcurrency()),
	}
	svc.bank = app.NewQuestionBank(store, cache, opts...)
	svc.catalog = app.NewExamCatalog(store, cache, store, roster, opts...)
	svc.ledger = app.NewResultLedger(store, store, roster, records, opts...)
	svc.engine = app.NewSessionEngine(svc.catalog, cache, store, svc.ledger, opts...)
	return svc, nil
}

func seedMemory(students []config.SeedStudent, roster *memory.Roster, records *memory.AcademicRecord) {
	for _, s := range students {
		roster.Enroll(domain.Student{ID: s.ID, Name: s.Name, AdmissionNumber: s.AdmissionNumber, ClassID: s.ClassID})
		for _, subject := range s.Subjects {
			records.AddTarget(s.ID, s.ClassID, subject)
		}
	}
}

func seedPostgres(ctx context.Context, students []config.SeedStudent, roster *postgres.Roster, records *postgres.AcademicRecord) error {
	for _, s := range students {
		if err := roster.Enroll(ctx, domain.Student{ID: s.ID, Name: s.Name, AdmissionNumber: s.AdmissionNumber, ClassID: s.ClassID}); err != nil {
			return err
		}
		for _, subject := range s.Subjects {
			if err := records.AddTarget(ctx, s.ID, s.ClassID, subject); err != nil {
				return err
			}
		}
	}
	return nil
}
