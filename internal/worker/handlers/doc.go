// Package handlers contains the built-in task handlers.
//
// Both handlers perform deterministic text extraction: parse_resume pulls
// contact details, sections and skills out of raw resume text, and
// parse_job pulls title, company and requirements out of a job posting.
// They report progress at each extraction phase, which doubles as the
// cooperative cancellation checkpoint.
package handlers
