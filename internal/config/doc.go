// Package config loads seqd's YAML configuration and builds its logger.
//
// A config file is optional. Missing keys keep their defaults and unknown
// keys are rejected so typos surface at startup:
//
//	database: /var/lib/seqd/seqd.db
//	backend: sqlite
//	lock_timeout: 2s
//	refill_policy: discard
//	retry:
//	  attempts: 5
//	  delay: 10ms
//	  max_delay: 500ms
//	log:
//	  level: info
//	  file: /var/log/seqd/seqd.log
//	  max_size_mb: 100
package config
