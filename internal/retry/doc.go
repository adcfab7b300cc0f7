// Package retry re-runs operations that fail with transient PostgreSQL or
// network errors, waiting an exponentially growing, jittered delay between
// attempts.
//
// The provisioner uses it when opening connections to freshly created tenant
// databases, and the tenant pool uses it for the connectivity probe that
// guards every new engine:
//
//	exec := retry.NewExecutor(
//	    retry.NewPostgreSQLErrorClassifier(),
//	    retry.NewExponentialBackoff(pgtenant.DefaultRetryMaxAttempts),
//	)
//	pool, err := retry.Value(ctx, exec, func(ctx context.Context) (*pgxpool.Pool, error) {
//	    return pgxpool.NewWithConfig(ctx, cfg)
//	})
//
// Executors are immutable after construction and safe for concurrent use.
package retry
