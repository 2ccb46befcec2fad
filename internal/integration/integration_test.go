package integration

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"trivia-host/internal/app"
	"trivia-host/internal/domain"
	"trivia-host/internal/infra/postgres"
	pgmigrations "trivia-host/internal/infra/postgres/migrations"
	infraredis "trivia-host/internal/infra/redis"
)

type frozenScheduler struct{}

type frozenStopper struct{}

func (frozenStopper) Stop() bool { return true }

func (frozenScheduler) AfterFunc(time.Duration, func()) app.Stopper { return frozenStopper{} }

func TestSessionPersistsEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	questions := postgres.NewQuestionStore(pool)
	for i := 1; i <= 4; i++ {
		if _, err := questions.Create(ctx, "host-1", fmt.Sprintf("Question %d?", i), fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("seed question: %v", err)
		}
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	results := postgres.NewResultsStore(db)
	service := app.NewHostService(
		sessions,
		infraredis.NewQuestionCache(redisClient, questions, 5*time.Minute),
		questions,
		results,
		app.WithHostScheduler(frozenScheduler{}),
		app.WithRandSource(func() *rand.Rand { return rand.New(rand.NewSource(7)) }),
		app.WithRetryDelay(10*time.Millisecond),
	)

	ctrl, err := service.StartSession(ctx, "host-1", domain.SessionConfig{
		TotalRounds: 2, QuestionsPerRound: 2, SecondsPerQuestion: 30, SessionName: "Quiz night",
	}, []string{"Owls", "Foxes"})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if live, err := sessions.Live(ctx, "host-1"); err != nil || !live {
		t.Fatalf("expected liveness marker, got live=%v err=%v", live, err)
	}

	seen := map[string]bool{}
	rounds := []map[string]string{{"Owls": "1", "Foxes": "2"}, {"Owls": "2", "Foxes": "0"}}
	for i, scores := range rounds {
		for _, q := range ctrl.RoundQuestions() {
			if seen[q.ID] {
				t.Fatalf("question %s repeated in round %d", q.ID, i+1)
			}
			seen[q.ID] = true
		}
		for ctrl.State().Phase == domain.PhaseInRound {
			if err := ctrl.Next(); err != nil {
				t.Fatalf("next: %v", err)
			}
		}
		if err := ctrl.Acknowledge(); err != nil {
			t.Fatalf("acknowledge: %v", err)
		}
		if _, err := ctrl.Submit(scores); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := ctrl.Continue(); err != nil {
			t.Fatalf("continue: %v", err)
		}
	}
	if ctrl.State().Phase != domain.PhaseFinalized {
		t.Fatalf("expected finalized, got %s", ctrl.State().Phase)
	}
	if err := service.WaitPersisted(ctx); err != nil {
		t.Fatalf("wait persisted: %v", err)
	}

	history, err := service.ListHistory(ctx, "host-1")
	if err != nil || len(history) != 1 {
		t.Fatalf("expected one history record, got %d (%v)", len(history), err)
	}
	rec := history[0]
	if rec.Teams[0].Name != "Owls" || rec.Teams[0].TotalScore != 3 || rec.Teams[1].Placement != 2 || rec.TotalPossiblePoints != 4 {
		t.Fatalf("unexpected history %+v", rec)
	}

	archives, err := service.ListTeamArchives(ctx, "host-1")
	if err != nil || len(archives) != 2 || len(archives[0].Quizzes) != 1 {
		t.Fatalf("expected one archived quiz per team, got %+v (%v)", archives, err)
	}

	if err := service.DeleteHistory(ctx, "host-1", rec.ID); err != nil {
		t.Fatalf("delete history: %v", err)
	}
	archives, _ = service.ListTeamArchives(ctx, "host-1")
	if len(archives) != 0 {
		t.Fatalf("expected archives removed with the history record, got %+v", archives)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "trivia", "POSTGRES_PASSWORD": "triviapass", "POSTGRES_DB": "trivia"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://trivia:triviapass@%s:%s/trivia?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
