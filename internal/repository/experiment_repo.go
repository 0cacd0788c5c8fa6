package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nnfit/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var (
	// ErrPersistence wraps every failed read or write of the store
	ErrPersistence = errors.New("persistence error")
	// ErrNoExperiments is returned when no loss has been stored yet
	ErrNoExperiments = errors.New("no experiments stored")
	// ErrExperimentNotFound is returned for an unknown experiment id
	ErrExperimentNotFound = errors.New("experiment not found")
)

// iniColumns is the fixed column order of the ini table
const iniColumns = `new_ts, ts_size, mb, fx, a, b, c,
	eta, epoch_num, delta, w00l1, w10l1,
	w20l1, w00l2, w01l2, w02l2, b0l1,
	b1l1, b2l1, b0l2`

// ExperimentRepository stores experiments and their results
type ExperimentRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewExperimentRepository wraps an open database
func NewExperimentRepository(db *sqlx.DB, logger *zap.Logger) *ExperimentRepository {
	return &ExperimentRepository{db: db, logger: logger}
}

// CreateSchema creates the tables if they do not exist yet
func (r *ExperimentRepository) CreateSchema() error {
	return MigrateDB(r.db, r.logger)
}

// Close closes the database connection
func (r *ExperimentRepository) Close() error {
	return r.db.Close()
}

// WithTx runs fn inside one transaction. The transaction is committed when
// fn returns nil and rolled back otherwise, so either every row written
// through the Writer is stored or none is.
func (r *ExperimentRepository) WithTx(ctx context.Context, fn func(w *Writer) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	if err := fn(&Writer{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrPersistence, err)
	}
	return nil
}

// SaveExperiment inserts one ini row and returns its id
func (r *ExperimentRepository) SaveExperiment(ctx context.Context, p models.ParameterSet) (int64, error) {
	var id int64
	err := r.WithTx(ctx, func(w *Writer) error {
		var err error
		id, err = w.SaveExperiment(ctx, p)
		return err
	})
	return id, err
}

// SaveOptimalWeights inserts the final weights reported by the engine
func (r *ExperimentRepository) SaveOptimalWeights(ctx context.Context, result *models.EngineResult, expID int64) (models.OptimalWeights, error) {
	var ow models.OptimalWeights
	err := r.WithTx(ctx, func(w *Writer) error {
		var err error
		ow, err = w.SaveOptimalWeights(ctx, result, expID)
		return err
	})
	return ow, err
}

// SaveLoss inserts every epoch of the engine's loss curve
func (r *ExperimentRepository) SaveLoss(ctx context.Context, result *models.EngineResult, expID int64) error {
	return r.WithTx(ctx, func(w *Writer) error {
		return w.SaveLoss(ctx, result, expID)
	})
}

// SavePredictions inserts the evaluated test points
func (r *ExperimentRepository) SavePredictions(ctx context.Context, predictions []models.Prediction, expID int64) error {
	return r.WithTx(ctx, func(w *Writer) error {
		return w.SavePredictions(ctx, predictions, expID)
	})
}

// Writer inserts rows inside a transaction opened by WithTx
type Writer struct {
	tx *sqlx.Tx
}

// SaveExperiment inserts p into ini and returns the assigned id
func (w *Writer) SaveExperiment(ctx context.Context, p models.ParameterSet) (int64, error) {
	query := `
		INSERT INTO ini (` + iniColumns + `)
		VALUES (
			:new_ts, :ts_size, :mb, :fx, :a, :b, :c,
			:eta, :epoch_num, :delta, :w00l1, :w10l1,
			:w20l1, :w00l2, :w01l2, :w02l2, :b0l1,
			:b1l1, :b2l1, :b0l2
		)
		RETURNING id
	`

	id, err := w.insertReturningID(ctx, query, p)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to save experiment: %v", ErrPersistence, err)
	}
	return id, nil
}

// insertReturningID runs a named INSERT ending in RETURNING id
func (w *Writer) insertReturningID(ctx context.Context, query string, arg any) (int64, error) {
	rows, err := sqlx.NamedQueryContext(ctx, w.tx, query, arg)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("no id returned")
	}
	var id int64
	if err := rows.Scan(&id); err != nil {
		return 0, err
	}
	return id, rows.Close()
}

// SaveOptimalWeights flattens the engine weights (w_layer_1, w_layer_2,
// b_layer_1, b_layer_2) into one optimal_wb row and returns it
func (w *Writer) SaveOptimalWeights(ctx context.Context, result *models.EngineResult, expID int64) (models.OptimalWeights, error) {
	query := `
		INSERT INTO optimal_wb (
			exp_id,
			w00l1, w10l1, w20l1,
			w00l2, w01l2, w02l2,
			b0l1, b1l1, b2l1,
			b0l2
		) VALUES (
			:exp_id,
			:w00l1, :w10l1, :w20l1,
			:w00l2, :w01l2, :w02l2,
			:b0l1, :b1l1, :b2l1,
			:b0l2
		)
		RETURNING id
	`

	ow := models.NewOptimalWeights(expID, result.Weights.Vector())
	id, err := w.insertReturningID(ctx, query, ow)
	if err != nil {
		return models.OptimalWeights{}, fmt.Errorf("%w: failed to save optimal weights: %v", ErrPersistence, err)
	}
	ow.ID = id
	return ow, nil
}

// SaveLoss inserts one loss row per epoch in engine order
func (w *Writer) SaveLoss(ctx context.Context, result *models.EngineResult, expID int64) error {
	stmt, err := w.tx.PreparexContext(ctx, w.tx.Rebind(`INSERT INTO loss (exp_id, epoch, mse) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare loss insert: %v", ErrPersistence, err)
	}
	defer stmt.Close()

	for _, entry := range result.Loss {
		if _, err := stmt.ExecContext(ctx, expID, entry.Epoch, entry.MSE); err != nil {
			return fmt.Errorf("%w: failed to save loss for epoch %d: %v", ErrPersistence, entry.Epoch, err)
		}
	}
	return nil
}

// SavePredictions inserts one predictions row per test point
func (w *Writer) SavePredictions(ctx context.Context, predictions []models.Prediction, expID int64) error {
	stmt, err := w.tx.PreparexContext(ctx, w.tx.Rebind(`INSERT INTO predictions (exp_id, x, fx_pred) VALUES (?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare prediction insert: %v", ErrPersistence, err)
	}
	defer stmt.Close()

	for _, p := range predictions {
		if _, err := stmt.ExecContext(ctx, expID, p.X, p.FxPred); err != nil {
			return fmt.Errorf("%w: failed to save prediction: %v", ErrPersistence, err)
		}
	}
	return nil
}

// QueryMinLoss returns the loss row holding the global minimum mse. Ties
// are broken by the lowest experiment id, then the lowest epoch.
func (r *ExperimentRepository) QueryMinLoss(ctx context.Context) (models.LossPoint, error) {
	query := `
		SELECT id, exp_id, epoch, mse
		FROM loss
		ORDER BY mse ASC, exp_id ASC, epoch ASC
		LIMIT 1
	`

	var point models.LossPoint
	err := r.db.GetContext(ctx, &point, query)
	if errors.Is(err, sql.ErrNoRows) {
		return point, ErrNoExperiments
	}
	if err != nil {
		return point, fmt.Errorf("%w: failed to query minimum loss: %v", ErrPersistence, err)
	}
	return point, nil
}

// QueryMinLossExperiment returns the id of the experiment owning the
// global minimum mse
func (r *ExperimentRepository) QueryMinLossExperiment(ctx context.Context) (int64, error) {
	point, err := r.QueryMinLoss(ctx)
	if err != nil {
		return 0, err
	}
	return point.ExpID, nil
}

// QueryLossCurve returns the loss of one experiment ordered by epoch
func (r *ExperimentRepository) QueryLossCurve(ctx context.Context, expID int64) ([]models.LossPoint, error) {
	query := r.db.Rebind(`
		SELECT id, exp_id, epoch, mse
		FROM loss
		WHERE exp_id = ?
		ORDER BY epoch, id
	`)

	curve := []models.LossPoint{}
	if err := r.db.SelectContext(ctx, &curve, query, expID); err != nil {
		return nil, fmt.Errorf("%w: failed to query loss curve: %v", ErrPersistence, err)
	}
	return curve, nil
}

// QueryPredictions returns the predictions of one experiment in insertion order
func (r *ExperimentRepository) QueryPredictions(ctx context.Context, expID int64) ([]models.Prediction, error) {
	query := r.db.Rebind(`
		SELECT id, exp_id, x, fx_pred
		FROM predictions
		WHERE exp_id = ?
		ORDER BY id
	`)

	predictions := []models.Prediction{}
	if err := r.db.SelectContext(ctx, &predictions, query, expID); err != nil {
		return nil, fmt.Errorf("%w: failed to query predictions: %v", ErrPersistence, err)
	}
	return predictions, nil
}

// QueryFunctionSpec returns the analytic target of one experiment
func (r *ExperimentRepository) QueryFunctionSpec(ctx context.Context, expID int64) (models.FunctionSpec, error) {
	query := r.db.Rebind(`SELECT fx, a, b, c FROM ini WHERE id = ?`)

	var spec models.FunctionSpec
	err := r.db.GetContext(ctx, &spec, query, expID)
	if errors.Is(err, sql.ErrNoRows) {
		return spec, fmt.Errorf("%w: %d", ErrExperimentNotFound, expID)
	}
	if err != nil {
		return spec, fmt.Errorf("%w: failed to query function: %v", ErrPersistence, err)
	}
	return spec, nil
}

// GetExperiment returns one ini row
func (r *ExperimentRepository) GetExperiment(ctx context.Context, expID int64) (models.Experiment, error) {
	query := r.db.Rebind(`SELECT id, ` + iniColumns + ` FROM ini WHERE id = ?`)

	var exp models.Experiment
	err := r.db.GetContext(ctx, &exp, query, expID)
	if errors.Is(err, sql.ErrNoRows) {
		return exp, fmt.Errorf("%w: %d", ErrExperimentNotFound, expID)
	}
	if err != nil {
		return exp, fmt.Errorf("%w: failed to get experiment: %v", ErrPersistence, err)
	}
	return exp, nil
}

// GetOptimalWeights returns the final weights of one experiment. If more
// than one row exists the latest one wins.
func (r *ExperimentRepository) GetOptimalWeights(ctx context.Context, expID int64) (models.OptimalWeights, error) {
	query := r.db.Rebind(`
		SELECT id, exp_id, w00l1, w10l1, w20l1, w00l2, w01l2, w02l2, b0l1, b1l1, b2l1, b0l2
		FROM optimal_wb
		WHERE exp_id = ?
		ORDER BY id DESC
		LIMIT 1
	`)

	var ow models.OptimalWeights
	err := r.db.GetContext(ctx, &ow, query, expID)
	if errors.Is(err, sql.ErrNoRows) {
		return ow, fmt.Errorf("%w: no weights for %d", ErrExperimentNotFound, expID)
	}
	if err != nil {
		return ow, fmt.Errorf("%w: failed to get optimal weights: %v", ErrPersistence, err)
	}
	return ow, nil
}

// ListExperiments returns every experiment with its loss summary
func (r *ExperimentRepository) ListExperiments(ctx context.Context) ([]models.ExperimentSummary, error) {
	query := `
		SELECT i.id, i.fx, COUNT(l.id) AS epochs, MIN(l.mse) AS min_mse
		FROM ini i
		LEFT JOIN loss l ON l.exp_id = i.id
		GROUP BY i.id, i.fx
		ORDER BY i.id
	`

	summaries := []models.ExperimentSummary{}
	if err := r.db.SelectContext(ctx, &summaries, query); err != nil {
		return nil, fmt.Errorf("%w: failed to list experiments: %v", ErrPersistence, err)
	}
	return summaries, nil
}

// QueryTrainingSet returns the engine's training set from the xfx table
func (r *ExperimentRepository) QueryTrainingSet(ctx context.Context) ([]models.TrainingPoint, error) {
	points := []models.TrainingPoint{}
	if err := r.db.SelectContext(ctx, &points, `SELECT id, x, fx FROM xfx ORDER BY id`); err != nil {
		return nil, fmt.Errorf("%w: failed to query training set: %v", ErrPersistence, err)
	}
	return points, nil
}

// CountRows returns the number of rows of every table
func (r *ExperimentRepository) CountRows(ctx context.Context) (models.TableCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM xfx) AS xfx,
			(SELECT COUNT(*) FROM ini) AS ini,
			(SELECT COUNT(*) FROM optimal_wb) AS optimal_wb,
			(SELECT COUNT(*) FROM loss) AS loss,
			(SELECT COUNT(*) FROM predictions) AS predictions
	`

	var counts models.TableCounts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return counts, fmt.Errorf("%w: failed to count rows: %v", ErrPersistence, err)
	}
	return counts, nil
}

// CheckIntegrity counts rows that reference a missing experiment
func (r *ExperimentRepository) CheckIntegrity(ctx context.Context) (models.IntegrityReport, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM optimal_wb WHERE exp_id IS NULL OR exp_id NOT IN (SELECT id FROM ini)) AS orphan_optimal_wb,
			(SELECT COUNT(*) FROM loss WHERE exp_id IS NULL OR exp_id NOT IN (SELECT id FROM ini)) AS orphan_loss,
			(SELECT COUNT(*) FROM predictions WHERE exp_id IS NULL OR exp_id NOT IN (SELECT id FROM ini)) AS orphan_predictions
	`

	var report models.IntegrityReport
	if err := r.db.GetContext(ctx, &report, query); err != nil {
		return report, fmt.Errorf("%w: failed to check integrity: %v", ErrPersistence, err)
	}
	if !report.Clean() {
		r.logger.Warn("Orphan rows found",
			zap.Int64("optimal_wb", report.OrphanWeights),
			zap.Int64("loss", report.OrphanLoss),
			zap.Int64("predictions", report.OrphanPredictions))
	}
	return report, nil
}
