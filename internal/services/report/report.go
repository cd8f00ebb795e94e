// Package report contains the sinks that turn relay records into human and
// machine readable output: console tables, structured logs, a durable
// journal and a redis channel.
package report
