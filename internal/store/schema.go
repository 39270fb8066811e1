// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import "github.com/ManuGH/lure/internal/persistence/sqlite"

// Timestamps are unix milliseconds (UTC). Booleans are 0/1.
var migrations = []sqlite.Migration{
	{Version: 1, Name: "users", SQL: `
	CREATE TABLE organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE COLLATE NOCASE,
		industry TEXT NOT NULL,
		size TEXT NOT NULL,
		subscription_tier TEXT NOT NULL DEFAULT 'basic',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK(role IN ('admin', 'customer', 'target')),
		organization_id TEXT REFERENCES organizations(id) ON DELETE SET NULL,
		phone TEXT NOT NULL DEFAULT '',
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_staff INTEGER NOT NULL DEFAULT 0,
		last_login INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX idx_users_org ON users(organization_id);
	CREATE INDEX idx_users_role ON users(role);

	CREATE TABLE user_profiles (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		department TEXT NOT NULL DEFAULT '',
		job_title TEXT NOT NULL DEFAULT '',
		security_level TEXT NOT NULL DEFAULT 'medium',
		last_training_date INTEGER
	);
	`},
	{Version: 2, Name: "targets", SQL: `
	CREATE TABLE target_tags (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '#007bff',
		created_at INTEGER NOT NULL,
		UNIQUE(organization_id, name)
	);

	CREATE TABLE targets (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		email TEXT NOT NULL COLLATE NOCASE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		department TEXT NOT NULL,
		job_title TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT 'medium',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		UNIQUE(organization_id, email)
	);
	CREATE INDEX idx_targets_org_dept ON targets(organization_id, department);
	CREATE INDEX idx_targets_org_risk ON targets(organization_id, risk_level);

	CREATE TABLE target_tag_links (
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		tag_id TEXT NOT NULL REFERENCES target_tags(id) ON DELETE CASCADE,
		PRIMARY KEY (target_id, tag_id)
	);
	CREATE INDEX idx_target_tag_links_tag ON target_tag_links(tag_id);

	CREATE TABLE target_groups (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(organization_id, name)
	);

	CREATE TABLE target_group_members (
		group_id TEXT NOT NULL REFERENCES target_groups(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		PRIMARY KEY (group_id, target_id)
	);
	CREATE INDEX idx_target_group_members_target ON target_group_members(target_id);

	CREATE TABLE target_imports (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		file_name TEXT NOT NULL,
		total_records INTEGER NOT NULL DEFAULT 0,
		successful_imports INTEGER NOT NULL DEFAULT 0,
		failed_imports INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'processing' CHECK(status IN ('processing', 'completed', 'failed')),
		error_log TEXT NOT NULL DEFAULT '',
		imported_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_target_imports_org ON target_imports(organization_id, created_at);
	`},
	{Version: 3, Name: "campaigns", SQL: `
	CREATE TABLE email_templates (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		subject TEXT NOT NULL,
		sender_name TEXT NOT NULL,
		sender_email TEXT NOT NULL,
		html_content TEXT NOT NULL,
		text_content TEXT NOT NULL DEFAULT '',
		template_type TEXT NOT NULL,
		difficulty_level TEXT NOT NULL DEFAULT 'beginner',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_email_templates_org ON email_templates(organization_id);

	CREATE TABLE landing_pages (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		html_content TEXT NOT NULL,
		css_content TEXT NOT NULL DEFAULT '',
		redirect_url TEXT NOT NULL DEFAULT '',
		page_type TEXT NOT NULL,
		capture_credentials INTEGER NOT NULL DEFAULT 0,
		capture_form_data INTEGER NOT NULL DEFAULT 0,
		show_awareness_message INTEGER NOT NULL DEFAULT 1,
		awareness_message TEXT NOT NULL DEFAULT '',
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_landing_pages_org ON landing_pages(organization_id);

	CREATE TABLE campaigns (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL REFERENCES email_templates(id) ON DELETE RESTRICT,
		landing_page_id TEXT REFERENCES landing_pages(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'draft' CHECK(status IN ('draft', 'scheduled', 'running', 'paused', 'completed', 'cancelled')),
		scheduled_start INTEGER,
		actual_start INTEGER,
		end_date INTEGER,
		send_interval_minutes INTEGER NOT NULL DEFAULT 5,
		track_opens INTEGER NOT NULL DEFAULT 1,
		track_clicks INTEGER NOT NULL DEFAULT 1,
		capture_credentials INTEGER NOT NULL DEFAULT 0,
		capture_data INTEGER NOT NULL DEFAULT 0,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX idx_campaigns_org_status ON campaigns(organization_id, status);
	CREATE INDEX idx_campaigns_template ON campaigns(template_id);
	CREATE INDEX idx_campaigns_landing_page ON campaigns(landing_page_id);

	CREATE TABLE campaign_groups (
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		group_id TEXT NOT NULL REFERENCES target_groups(id) ON DELETE CASCADE,
		PRIMARY KEY (campaign_id, group_id)
	);

	CREATE TABLE campaign_individual_targets (
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		PRIMARY KEY (campaign_id, target_id)
	);

	CREATE TABLE campaign_targets (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		email_sent_at INTEGER,
		email_opened_at INTEGER,
		link_clicked_at INTEGER,
		data_submitted_at INTEGER,
		reported_at INTEGER,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		submitted_data TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(campaign_id, target_id)
	);
	CREATE INDEX idx_campaign_targets_status ON campaign_targets(campaign_id, status);
	CREATE INDEX idx_campaign_targets_target ON campaign_targets(target_id);
	`},
	{Version: 4, Name: "emails", SQL: `
	CREATE TABLE smtp_configs (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 587,
		username TEXT NOT NULL DEFAULT '',
		password_enc TEXT NOT NULL DEFAULT '',
		use_tls INTEGER NOT NULL DEFAULT 1,
		use_ssl INTEGER NOT NULL DEFAULT 0,
		from_email TEXT NOT NULL,
		reply_to_email TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		daily_limit INTEGER NOT NULL DEFAULT 1000,
		current_daily_count INTEGER NOT NULL DEFAULT 0,
		last_reset_date TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_smtp_configs_org ON smtp_configs(organization_id, is_active);

	CREATE TABLE email_queue (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		campaign_target_id TEXT NOT NULL REFERENCES campaign_targets(id) ON DELETE CASCADE,
		scheduled_time INTEGER NOT NULL,
		sent_time INTEGER,
		status TEXT NOT NULL DEFAULT 'queued' CHECK(status IN ('queued', 'sending', 'sent', 'failed', 'cancelled')),
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX idx_email_queue_due ON email_queue(status, scheduled_time);
	CREATE INDEX idx_email_queue_campaign ON email_queue(campaign_id, status);
	CREATE INDEX idx_email_queue_ct ON email_queue(campaign_target_id);

	CREATE TABLE email_events (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		target_id TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		bounce_reason TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX idx_email_events_campaign ON email_events(campaign_id, event_type, timestamp);
	CREATE INDEX idx_email_events_target ON email_events(target_id);
	CREATE INDEX idx_email_events_ip ON email_events(campaign_id, ip_address, timestamp);
	`},
	{Version: 5, Name: "reports", SQL: `
	CREATE TABLE campaign_reports (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL UNIQUE REFERENCES campaigns(id) ON DELETE CASCADE,
		total_emails INTEGER NOT NULL DEFAULT 0,
		emails_sent INTEGER NOT NULL DEFAULT 0,
		emails_delivered INTEGER NOT NULL DEFAULT 0,
		emails_bounced INTEGER NOT NULL DEFAULT 0,
		emails_opened INTEGER NOT NULL DEFAULT 0,
		emails_clicked INTEGER NOT NULL DEFAULT 0,
		page_visits INTEGER NOT NULL DEFAULT 0,
		credentials_captured INTEGER NOT NULL DEFAULT 0,
		data_submitted INTEGER NOT NULL DEFAULT 0,
		emails_reported INTEGER NOT NULL DEFAULT 0,
		delivery_rate REAL NOT NULL DEFAULT 0,
		open_rate REAL NOT NULL DEFAULT 0,
		click_rate REAL NOT NULL DEFAULT 0,
		susceptibility_rate REAL NOT NULL DEFAULT 0,
		awareness_rate REAL NOT NULL DEFAULT 0,
		click_through_rate REAL NOT NULL DEFAULT 0,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE department_reports (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		department TEXT NOT NULL,
		total_employees INTEGER NOT NULL DEFAULT 0,
		emails_sent INTEGER NOT NULL DEFAULT 0,
		emails_opened INTEGER NOT NULL DEFAULT 0,
		links_clicked INTEGER NOT NULL DEFAULT 0,
		data_submitted INTEGER NOT NULL DEFAULT 0,
		emails_reported INTEGER NOT NULL DEFAULT 0,
		risk_score REAL NOT NULL DEFAULT 0,
		improvement_percentage REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(campaign_id, department)
	);
	CREATE INDEX idx_department_reports_dept ON department_reports(department, created_at);

	CREATE TABLE scheduled_reports (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		report_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		recipients TEXT NOT NULL DEFAULT '[]',
		next_run INTEGER NOT NULL,
		last_run INTEGER,
		last_file TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_scheduled_reports_due ON scheduled_reports(is_active, next_run);

	CREATE TABLE scheduled_report_campaigns (
		report_id TEXT NOT NULL REFERENCES scheduled_reports(id) ON DELETE CASCADE,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		PRIMARY KEY (report_id, campaign_id)
	);
	`},
	{Version: 6, Name: "notifications", SQL: `
	CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		is_read INTEGER NOT NULL DEFAULT 0,
		is_email_sent INTEGER NOT NULL DEFAULT 0,
		campaign_id TEXT REFERENCES campaigns(id) ON DELETE SET NULL,
		target_id TEXT REFERENCES targets(id) ON DELETE SET NULL,
		action_url TEXT NOT NULL DEFAULT '',
		action_label TEXT NOT NULL DEFAULT '',
		dedupe_key TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		read_at INTEGER,
		expires_at INTEGER
	);
	CREATE INDEX idx_notifications_recipient ON notifications(recipient_id, is_read, created_at);
	CREATE INDEX idx_notifications_dedupe ON notifications(recipient_id, dedupe_key, created_at) WHERE dedupe_key != '';

	CREATE TABLE notification_preferences (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		email_campaign_updates INTEGER NOT NULL DEFAULT 1,
		email_security_alerts INTEGER NOT NULL DEFAULT 1,
		email_reports INTEGER NOT NULL DEFAULT 1,
		email_billing INTEGER NOT NULL DEFAULT 1,
		app_campaign_updates INTEGER NOT NULL DEFAULT 1,
		app_security_alerts INTEGER NOT NULL DEFAULT 1,
		app_system_alerts INTEGER NOT NULL DEFAULT 1,
		digest_frequency TEXT NOT NULL DEFAULT 'daily',
		quiet_hours_start TEXT NOT NULL DEFAULT '',
		quiet_hours_end TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		last_digest_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE alert_rules (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		threshold_value REAL,
		time_window_minutes INTEGER NOT NULL DEFAULT 60,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_alert_rules_org ON alert_rules(organization_id, trigger_type, is_active);

	CREATE TABLE alert_rule_users (
		rule_id TEXT NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		PRIMARY KEY (rule_id, user_id)
	);
	`},
	{Version: 7, Name: "billing", SQL: `
	CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL UNIQUE REFERENCES organizations(id) ON DELETE CASCADE,
		plan_name TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		max_targets INTEGER NOT NULL,
		max_campaigns_per_month INTEGER NOT NULL,
		max_emails_per_month INTEGER NOT NULL,
		max_templates INTEGER NOT NULL,
		max_landing_pages INTEGER NOT NULL,
		advanced_reporting INTEGER NOT NULL DEFAULT 0,
		api_access INTEGER NOT NULL DEFAULT 0,
		custom_branding INTEGER NOT NULL DEFAULT 0,
		priority_support INTEGER NOT NULL DEFAULT 0,
		monthly_price INTEGER NOT NULL,
		annual_price INTEGER NOT NULL,
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		status TEXT NOT NULL DEFAULT 'trial',
		trial_end_date INTEGER,
		current_period_start INTEGER NOT NULL,
		current_period_end INTEGER NOT NULL,
		next_billing_date INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE invoices (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		invoice_number TEXT NOT NULL UNIQUE,
		subtotal INTEGER NOT NULL,
		tax_amount INTEGER NOT NULL DEFAULT 0,
		discount_amount INTEGER NOT NULL DEFAULT 0,
		total_amount INTEGER NOT NULL,
		issue_date INTEGER NOT NULL,
		due_date INTEGER NOT NULL,
		paid_date INTEGER,
		status TEXT NOT NULL DEFAULT 'draft',
		payment_method TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		period_start INTEGER NOT NULL,
		period_end INTEGER NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_invoices_subscription ON invoices(subscription_id, issue_date);
	CREATE INDEX idx_invoices_status ON invoices(status, due_date);

	CREATE TABLE usage_metrics (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		metric_type TEXT NOT NULL,
		current_value INTEGER NOT NULL DEFAULT 0,
		limit_value INTEGER NOT NULL DEFAULT 0,
		usage_percentage REAL NOT NULL DEFAULT 0,
		measurement_date INTEGER NOT NULL,
		reset_date INTEGER NOT NULL,
		warning_threshold REAL NOT NULL DEFAULT 0.8,
		warning_sent INTEGER NOT NULL DEFAULT 0,
		limit_exceeded INTEGER NOT NULL DEFAULT 0,
		UNIQUE(organization_id, metric_type)
	);

	CREATE TABLE payment_methods (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		method_type TEXT NOT NULL,
		card_last_four TEXT NOT NULL DEFAULT '',
		card_brand TEXT NOT NULL DEFAULT '',
		expiry_month INTEGER,
		expiry_year INTEGER,
		stripe_payment_method_id TEXT NOT NULL DEFAULT '',
		paypal_payment_id TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX idx_payment_methods_org ON payment_methods(organization_id);
	`},
	{Version: 8, Name: "jobs", SQL: `
	CREATE TABLE job_runs (
		name TEXT PRIMARY KEY,
		last_started INTEGER,
		last_finished INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		runs INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0
	);
	`},
}
