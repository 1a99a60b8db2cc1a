package model

// ScheduledJob is a recurring agent job whose runs are recorded in the
// audit log under Action.
type ScheduledJob struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Action   string `json:"action"`
}

// ScheduledJobs is the job catalogue shown on the status page.
var ScheduledJobs = []ScheduledJob{
	{ID: "sophia_polling", Name: "Sophia CSM Polling", Schedule: "Every 5min", Action: "sophia_polling"},
	{ID: "email_scheduler", Name: "Email Scheduler", Schedule: "Every 15min", Action: "email_scheduler"},
	{ID: "daily_heartbeat", Name: "Daily Heartbeat", Schedule: "Daily 12pm", Action: "daily_heartbeat"},
	{ID: "video_scripts", Name: "Video Scripts", Schedule: "Daily 7am", Action: "video_scripts"},
	{ID: "discord_engage", Name: "Discord Engagement", Schedule: "Daily 8am", Action: "discord_engagement"},
	{ID: "cold_outreach", Name: "Cold Outreach (Alex)", Schedule: "Daily 9am Mon-Fri", Action: "cold_outreach"},
	{ID: "repo_sync", Name: "Repo Sync", Schedule: "Tuesday 9am", Action: "repo_sync"},
	{ID: "qmd_index", Name: "QMD Auto-Index", Schedule: "Daily 3am", Action: "qmd_autoindex"},
	{ID: "memory_curate", Name: "Memory Curation", Schedule: "Sunday 6pm", Action: "memory_curate"},
}

// JobByAction looks up a scheduled job by its audit action.
func JobByAction(action string) (ScheduledJob, bool) {
	for _, j := range ScheduledJobs {
		if j.Action == action {
			return j, true
		}
	}
	return ScheduledJob{}, false
}
