// Package automation coordinates the scheduled and reactive jobs that act on
// the contact base: auto-replies, lead scoring, follow-ups, bulk sends, the
// daily health check and analytics.
package automation
