package jobrun

const (
	WorkflowName = "brand_asset_job"
	ActivityTick = "brand_asset_job_tick"
	SignalResume = "job_resume"
)
