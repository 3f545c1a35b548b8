package journal

type RunRecord struct {
	TaskID     string `gorm:"column:task_id;primaryKey"`
	Prompt     string `gorm:"column:prompt;not null;default:''"`
	Status     string `gorm:"column:status;not null;default:''"`
	Reason     string `gorm:"column:reason;not null;default:''"`
	StepCount  int    `gorm:"column:step_count;not null;default:0"`
	CreatedAt  int64  `gorm:"column:created_at;not null;default:0"`
	FinishedAt int64  `gorm:"column:finished_at;not null;default:0"`
}

func (RunRecord) TableName() string { return "run_records" }
