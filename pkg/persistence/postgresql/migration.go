package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(64) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				conversation_id VARCHAR(255),
				title TEXT NOT NULL,
				original_request TEXT NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_step_id VARCHAR(64),
				flow_context JSONB NOT NULL DEFAULT '{}',
				total_steps INT NOT NULL DEFAULT 0,
				completed_steps INT NOT NULL DEFAULT 0,
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 3,
				last_error TEXT,
				suggestions JSONB,
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flows_user ON flows(tenant_id, user_id, created_at DESC);
			CREATE INDEX idx_flows_status_updated ON flows(status, updated_at);

			CREATE TABLE flow_steps (
				flow_id VARCHAR(64) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				id VARCHAR(64) NOT NULL,
				position INT NOT NULL,
				step_type VARCHAR(32) NOT NULL,
				name TEXT,
				description TEXT,
				capability_slug VARCHAR(255),
				input_params JSONB,
				param_mappings JSONB,
				status VARCHAR(32) NOT NULL,
				result JSONB,
				error_message TEXT,
				prompt_type VARCHAR(32),
				prompt_message TEXT,
				prompt_options JSONB,
				user_response JSONB,
				escalated_from VARCHAR(64),
				condition TEXT,
				on_success_goto INT,
				on_fail_goto INT,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (flow_id, id),
				UNIQUE (flow_id, position) DEFERRABLE INITIALLY DEFERRED
			);

			CREATE TABLE flow_logs (
				id VARCHAR(64) PRIMARY KEY,
				flow_id VARCHAR(64) NOT NULL,
				step_id VARCHAR(64),
				log_type VARCHAR(64) NOT NULL,
				message TEXT NOT NULL,
				metadata JSONB,
				actor_type VARCHAR(16) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flow_logs_flow ON flow_logs(flow_id, created_at);
		`,
	}
}
