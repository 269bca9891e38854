package reconcile

const (
	msgWelcome = "友だち追加ありがとうございます！\n" +
		"Webの見積もりフォームに回答後、「LINEで結果を受け取る」からログインすると、こちらに概算お見積もりをお届けします。"
	msgPreparing     = "お見積もりを準備しています。完了しましたらこちらでお知らせします。"
	msgLoginRequired = "お見積もりをお届けするには、見積もりフォームの「LINEで結果を受け取る」からログインしてください。"

	detailsTitle = "より正確なお見積もりのために"
	detailsBody  = "お名前・ご連絡先と建物の写真を送っていただくと、担当者が詳しいお見積もりをご案内します。"
)

// Keywords the chat responder reacts to.
var (
	estimateKeywords = []string{"見積", "みつもり", "金額", "estimate"}
	detailsKeywords  = []string{"詳細", "写真", "details"}
)
