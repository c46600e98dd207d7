package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scenario_results (
	result_id BYTEA PRIMARY KEY,
	run_id TEXT NOT NULL,
	network TEXT NOT NULL,
	chain_id BIGINT NOT NULL,
	suite TEXT NOT NULL,
	scenario TEXT NOT NULL,
	state TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	result_json BYTEA NOT NULL,
	reported_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT scenario_results_id_len CHECK (octet_length(result_id) = 32),
	CONSTRAINT scenario_results_state CHECK (state IN ('passed', 'failed')),
	CONSTRAINT scenario_results_chain_id_nonneg CHECK (chain_id >= 0),
	CONSTRAINT scenario_results_scenario_unique UNIQUE (run_id, suite, scenario)
);

CREATE INDEX IF NOT EXISTS scenario_results_reported_idx ON scenario_results (reported_at DESC);
`
