// Package logx is x402watch's structured logging on top of zerolog.
//
// Console output is human readable, the log file gets one JSON record per
// line, and an optional alert sink forwards records at or above a minimum
// level to the notification transport, rate limited.
package logx
