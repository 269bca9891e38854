package email

const (
	subjectLeadDetailsFmt          = "【見積もり依頼】%s様 概算%s"
	subjectLeadDetailsAnonymousFmt = "【見積もり依頼】お名前未入力 概算%s"
)
