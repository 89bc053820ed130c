// meta/meta.go
package meta

import "time"

// ROUNDS_PER_PHASE is the number of negotiation rounds before orders are collected.
const ROUNDS_PER_PHASE = 1

// PARALLELISM bounds concurrent agent calls inside a round. 1 means sequential.
const PARALLELISM = 1

// MAX_PHASES stops a run after this many processed phases. 0 means until the engine is done.
const MAX_PHASES = 0

const DEFAULT_MODEL = "gpt-4o-mini"
const DEFAULT_PROVIDER = "openai"
const DEFAULT_API_KEY_ENV = "OPENAI_API_KEY"

const TEMPERATURE = 0.7
const MAX_TOKENS = 1000

// MAX_RETRIES is the number of attempts per completion call, including the first.
const MAX_RETRIES = 3

const RETRY_INITIAL_INTERVAL = 500 * time.Millisecond

const SYSTEM_PROMPT = "You are a strategic player in a game of Diplomacy."

// CHECKPOINT_DIR is where hour-bucketed checkpoints are written.
const CHECKPOINT_DIR = "game_states"

// JOURNAL_FILE lives inside CHECKPOINT_DIR unless configured otherwise.
const JOURNAL_FILE = "journal.db"

// REPORT_DIR holds the per-run phase reports.
const REPORT_DIR = "reports"

const ENGINE_TIMEOUT = 30 * time.Second

const ENV_PREFIX = "MACHIAVELLM_"
