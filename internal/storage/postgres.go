package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/vidtrack/internal/config"
	"github.com/your-org/vidtrack/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id          SERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			number      TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id          SERIAL PRIMARY KEY,
			project_id  INT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			next_batch  INT NOT NULL DEFAULT 0,
			progress    INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS videos (
			id            SERIAL PRIMARY KEY,
			job_id        INT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			path          TEXT NOT NULL,
			frame_count   INT NOT NULL,
			fps           INT NOT NULL,
			width         INT NOT NULL,
			height        INT NOT NULL,
			output_width  INT NOT NULL,
			output_height INT NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			UNIQUE (job_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS frames (
			id       SERIAL PRIMARY KEY,
			video_id INT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			idx      INT NOT NULL,
			ts       TIMESTAMPTZ,
			UNIQUE (video_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id          SERIAL PRIMARY KEY,
			frame_id    INT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
			frame       INT NOT NULL,
			x1          DOUBLE PRECISION NOT NULL,
			y1          DOUBLE PRECISION NOT NULL,
			x2          DOUBLE PRECISION NOT NULL,
			y2          DOUBLE PRECISION NOT NULL,
			probability DOUBLE PRECISION NOT NULL,
			label       INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			id          SERIAL PRIMARY KEY,
			job_id      INT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			track_id    INT NOT NULL,
			label       INT NOT NULL,
			probability DOUBLE PRECISION NOT NULL,
			time_in     TIMESTAMPTZ,
			time_out    TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS object_detections (
			id          SERIAL PRIMARY KEY,
			object_id   INT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
			frame       INT NOT NULL,
			video_id    INT,
			x1          DOUBLE PRECISION NOT NULL,
			y1          DOUBLE PRECISION NOT NULL,
			x2          DOUBLE PRECISION NOT NULL,
			y2          DOUBLE PRECISION NOT NULL,
			probability DOUBLE PRECISION NOT NULL,
			label       INT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, number, description, location) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Name, p.Number, p.Description, p.Location,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject loads a project with all its jobs, videos, committed frames and
// objects. Returns nil without error when the project does not exist.
func (s *PostgresStore) GetProject(ctx context.Context, id int) (*models.Project, error) {
	p := &models.Project{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, number, description, location FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Number, &p.Description, &p.Location)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, location, status, next_batch, progress
		 FROM jobs WHERE project_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			jobID, nextBatch, progress  int
			name, description, location string
			status                      models.Status
		)
		if err := rows.Scan(&jobID, &name, &description, &location, &status, &nextBatch, &progress); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job := models.RestoreJob(jobID, name, description, location, status, nextBatch, progress)
		p.AddJob(job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	for _, job := range p.Jobs {
		if err := s.loadVideos(ctx, job); err != nil {
			return nil, err
		}
		if err := s.loadObjects(ctx, job); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *PostgresStore) loadVideos(ctx context.Context, job *models.Job) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, path, frame_count, fps, width, height, output_width, output_height, ts
		 FROM videos WHERE job_id = $1 ORDER BY ts`, job.ID)
	if err != nil {
		return fmt.Errorf("list videos for job %d: %w", job.ID, err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v := &models.Video{}
		if err := rows.Scan(&v.ID, &v.Path, &v.FrameCount, &v.FPS, &v.Width, &v.Height,
			&v.OutputWidth, &v.OutputHeight, &v.Timestamp); err != nil {
			return fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate videos: %w", err)
	}

	for _, v := range videos {
		if err := s.loadFrames(ctx, v); err != nil {
			return err
		}
		if err := job.AddVideo(v); err != nil {
			return fmt.Errorf("restore video %s: %w", v.Path, err)
		}
	}
	return nil
}

// frameRow is one row of the frames/detections join, ordered by frame index
// then detection id. Detection columns are nil for frames without detections.
type frameRow struct {
	idx                  int
	ts                   *time.Time
	absFrame             *int
	x1, y1, x2, y2, prob *float64
	label                *int
}

func (s *PostgresStore) loadFrames(ctx context.Context, v *models.Video) error {
	rows, err := s.pool.Query(ctx,
		`SELECT f.idx, f.ts,
		        d.frame, d.x1, d.y1, d.x2, d.y2, d.probability, d.label
		 FROM frames f
		 LEFT JOIN detections d ON d.frame_id = f.id
		 WHERE f.video_id = $1
		 ORDER BY f.idx, d.id`, v.ID)
	if err != nil {
		return fmt.Errorf("list frames for video %d: %w", v.ID, err)
	}
	defer rows.Close()

	var frameRows []frameRow
	for rows.Next() {
		var r frameRow
		if err := rows.Scan(&r.idx, &r.ts, &r.absFrame, &r.x1, &r.y1, &r.x2, &r.y2, &r.prob, &r.label); err != nil {
			return fmt.Errorf("scan frame: %w", err)
		}
		frameRows = append(frameRows, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate frames for video %d: %w", v.ID, err)
	}

	return restoreFrames(v, frameRows)
}

// restoreFrames folds the join rows back into frames on the video. A restored
// detection carries the frame's index within its video, exactly as the live
// processing path writes it; database row ids never reach the model.
func restoreFrames(v *models.Video, rows []frameRow) error {
	var current *models.Frame
	flush := func() error {
		if current == nil {
			return nil
		}
		if err := v.AddFrame(*current); err != nil {
			return fmt.Errorf("restore frame %d: %w", current.Idx, err)
		}
		return nil
	}

	for _, r := range rows {
		if current == nil || current.Idx != r.idx {
			if err := flush(); err != nil {
				return err
			}
			videoID := v.ID
			current = &models.Frame{Idx: r.idx, Timestamp: r.ts, VideoID: &videoID}
		}
		if r.absFrame != nil {
			det := models.Detection{
				BBox:        models.BBox{X1: *r.x1, Y1: *r.y1, X2: *r.x2, Y2: *r.y2},
				Probability: *r.prob,
				Label:       *r.label,
			}
			det.SetFrame(*r.absFrame, r.idx, v.ID)
			current.Detections = append(current.Detections, det)
		}
	}
	return flush()
}

func (s *PostgresStore) loadObjects(ctx context.Context, job *models.Job) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, track_id, time_in, time_out FROM objects WHERE job_id = $1 ORDER BY id`, job.ID)
	if err != nil {
		return fmt.Errorf("list objects for job %d: %w", job.ID, err)
	}
	defer rows.Close()

	type objRow struct {
		id, trackID      int
		timeIn, timeOut  *time.Time
	}
	var objRows []objRow
	for rows.Next() {
		var r objRow
		if err := rows.Scan(&r.id, &r.trackID, &r.timeIn, &r.timeOut); err != nil {
			return fmt.Errorf("scan object: %w", err)
		}
		objRows = append(objRows, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate objects: %w", err)
	}

	for _, r := range objRows {
		dets, err := s.loadObjectDetections(ctx, r.id)
		if err != nil {
			return err
		}
		obj := models.NewObject(r.trackID, dets)
		obj.ID = r.id
		if r.timeIn != nil {
			obj.TimeIn = *r.timeIn
		}
		if r.timeOut != nil {
			obj.TimeOut = *r.timeOut
		}
		job.AddObject(obj)
	}
	return nil
}

func (s *PostgresStore) loadObjectDetections(ctx context.Context, objectID int) ([]models.Detection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT frame, video_id, x1, y1, x2, y2, probability, label
		 FROM object_detections WHERE object_id = $1 ORDER BY id`, objectID)
	if err != nil {
		return nil, fmt.Errorf("list detections for object %d: %w", objectID, err)
	}
	defer rows.Close()

	var dets []models.Detection
	for rows.Next() {
		var det models.Detection
		if err := rows.Scan(&det.Frame, &det.VideoID, &det.BBox.X1, &det.BBox.Y1,
			&det.BBox.X2, &det.BBox.Y2, &det.Probability, &det.Label); err != nil {
			return nil, fmt.Errorf("scan object detection: %w", err)
		}
		dets = append(dets, det)
	}
	return dets, rows.Err()
}

// --- Jobs ---

// SaveJob persists the job state, its videos and any committed frames that are
// not stored yet, all in one transaction. Progress is only durable once this
// returns, so the pipeline calls it after every batch.
func (s *PostgresStore) SaveJob(ctx context.Context, projectID int, job *models.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save job: %w", err)
	}
	defer tx.Rollback(ctx)

	if job.ID == 0 {
		err = tx.QueryRow(ctx,
			`INSERT INTO jobs (project_id, name, description, location, status, next_batch, progress)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			projectID, job.Name, job.Description, job.Location, job.Status(), job.NextBatch, job.Progress,
		).Scan(&job.ID)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET name = $1, description = $2, location = $3, status = $4, next_batch = $5, progress = $6
			 WHERE id = $7 AND project_id = $8`,
			job.Name, job.Description, job.Location, job.Status(), job.NextBatch, job.Progress, job.ID, projectID)
	}
	if err != nil {
		return fmt.Errorf("save job %d: %w", job.ID, err)
	}

	for _, v := range job.Videos {
		if v.ID == 0 {
			err = tx.QueryRow(ctx,
				`INSERT INTO videos (job_id, path, frame_count, fps, width, height, output_width, output_height, ts)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
				job.ID, v.Path, v.FrameCount, v.FPS, v.Width, v.Height, v.OutputWidth, v.OutputHeight, v.Timestamp,
			).Scan(&v.ID)
			if err != nil {
				return fmt.Errorf("save video %s: %w", v.Path, err)
			}
		}
		if err := saveFrames(ctx, tx, v); err != nil {
			return err
		}
	}

	if err := saveObjects(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save job: %w", err)
	}
	return nil
}

// saveFrames inserts frames that are not stored yet. The unique key on
// (video_id, idx) makes re-saving an already committed frame a no-op, and
// detections are only written for frames inserted in this call.
func saveFrames(ctx context.Context, tx pgx.Tx, v *models.Video) error {
	for i := range v.Frames {
		f := &v.Frames[i]
		var frameID int
		err := tx.QueryRow(ctx,
			`INSERT INTO frames (video_id, idx, ts) VALUES ($1, $2, $3)
			 ON CONFLICT (video_id, idx) DO NOTHING RETURNING id`,
			v.ID, f.Idx, f.Timestamp,
		).Scan(&frameID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return fmt.Errorf("save frame %d of video %d: %w", f.Idx, v.ID, err)
		}
		for _, det := range f.Detections {
			_, err := tx.Exec(ctx,
				`INSERT INTO detections (frame_id, frame, x1, y1, x2, y2, probability, label)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				frameID, det.Frame, det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2,
				det.Probability, det.Label)
			if err != nil {
				return fmt.Errorf("save detection: %w", err)
			}
		}
	}
	return nil
}

// saveObjects rewrites the object set. Objects are produced in one shot by the
// tracking pass, so replacing them wholesale is simpler than diffing.
func saveObjects(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	if job.ObjectCount() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM objects WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("clear objects for job %d: %w", job.ID, err)
	}
	for _, obj := range job.Objects() {
		var objectID int
		err := tx.QueryRow(ctx,
			`INSERT INTO objects (job_id, track_id, label, probability, time_in, time_out)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			job.ID, obj.TrackID, obj.Label, obj.Probability, obj.TimeIn, obj.TimeOut,
		).Scan(&objectID)
		if err != nil {
			return fmt.Errorf("save object: %w", err)
		}
		obj.ID = objectID
		for _, det := range obj.Detections() {
			_, err := tx.Exec(ctx,
				`INSERT INTO object_detections (object_id, frame, video_id, x1, y1, x2, y2, probability, label)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				objectID, det.Frame, det.VideoID, det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2,
				det.Probability, det.Label)
			if err != nil {
				return fmt.Errorf("save object detection: %w", err)
			}
		}
	}
	return nil
}
