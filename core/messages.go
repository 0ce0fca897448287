package orchestration

import "strings"

// DefaultCompletionMarker is the phrase the dialogue service puts in its
// reply once every required field was collected.
const DefaultCompletionMarker = "تم استلام جميع البيانات"

// errorPlaceholder is replaced with the failure text in TurnFailed and
// ReportFailed.
const errorPlaceholder = "{error}"

// Messages are the status texts shown at each step of the conversation.
type Messages struct {
	Welcome    string `json:"welcome" yaml:"welcome" mapstructure:"welcome"`
	Recording  string `json:"recording" yaml:"recording" mapstructure:"recording"`
	Processing string `json:"processing" yaml:"processing" mapstructure:"processing"`

	MicrophoneNotFound         string `json:"microphone_not_found" yaml:"microphone_not_found" mapstructure:"microphone_not_found"`
	MicrophonePermissionDenied string `json:"microphone_permission_denied" yaml:"microphone_permission_denied" mapstructure:"microphone_permission_denied"`
	MicrophoneUnavailable      string `json:"microphone_unavailable" yaml:"microphone_unavailable" mapstructure:"microphone_unavailable"`
	RecorderSetupFailed        string `json:"recorder_setup_failed" yaml:"recorder_setup_failed" mapstructure:"recorder_setup_failed"`

	TurnFailed     string `json:"turn_failed" yaml:"turn_failed" mapstructure:"turn_failed"`
	PlaybackFailed string `json:"playback_failed" yaml:"playback_failed" mapstructure:"playback_failed"`
	ReadyForReport string `json:"ready_for_report" yaml:"ready_for_report" mapstructure:"ready_for_report"`

	ReportGenerating string `json:"report_generating" yaml:"report_generating" mapstructure:"report_generating"`
	ReportSaved      string `json:"report_saved" yaml:"report_saved" mapstructure:"report_saved"`
	ReportFailed     string `json:"report_failed" yaml:"report_failed" mapstructure:"report_failed"`
}

func DefaultMessages() Messages {
	return Messages{
		Welcome:    "👋 أهلاً بك! اضغط على الشاشة أو انتظر لبدء المحادثة الصوتية.",
		Recording:  "🔴 جاري التسجيل...",
		Processing: "📤 جاري المعالجة...",

		MicrophoneNotFound:         "⚠️ لم يتم العثور على ميكروفون. يرجى توصيل ميكروفون والمحاولة مرة أخرى.",
		MicrophonePermissionDenied: "⚠️ تم رفض إذن الوصول إلى الميكروفون. يرجى تمكين الأذونات في إعدادات المتصفح.",
		MicrophoneUnavailable:      "⚠️ تعذر الوصول إلى الميكروفون. يرجى التحقق من الأذونات والمحاولة مرة أخرى.",
		RecorderSetupFailed:        "⚠️ خطأ في إعداد مسجل الصوت. حاول تحديث الصفحة.",

		TurnFailed:     "⚠️ حدث خطأ: {error}. حاول مرة أخرى.",
		PlaybackFailed: "⚠️ حدث خطأ أثناء تشغيل صوت الرد. حاول مرة أخرى.",
		ReadyForReport: "\n✅ جاهز لإنشاء التقرير.",

		ReportGenerating: "⏳ جاري إنشاء التقرير...",
		ReportSaved:      "✅ تم إنشاء التقرير بنجاح وجاري تنزيله.",
		ReportFailed:     "⚠️ فشل إنشاء التقرير: {error}.",
	}
}

// withDefaults fills every empty text from DefaultMessages.
func (m Messages) withDefaults() Messages {
	defaults := DefaultMessages()
	fill := func(value *string, fallback string) {
		if strings.TrimSpace(*value) == "" {
			*value = fallback
		}
	}
	fill(&m.Welcome, defaults.Welcome)
	fill(&m.Recording, defaults.Recording)
	fill(&m.Processing, defaults.Processing)
	fill(&m.MicrophoneNotFound, defaults.MicrophoneNotFound)
	fill(&m.MicrophonePermissionDenied, defaults.MicrophonePermissionDenied)
	fill(&m.MicrophoneUnavailable, defaults.MicrophoneUnavailable)
	fill(&m.RecorderSetupFailed, defaults.RecorderSetupFailed)
	fill(&m.TurnFailed, defaults.TurnFailed)
	fill(&m.PlaybackFailed, defaults.PlaybackFailed)
	// ReadyForReport starts with a newline, so only an empty value is missing.
	if m.ReadyForReport == "" {
		m.ReadyForReport = defaults.ReadyForReport
	}
	fill(&m.ReportGenerating, defaults.ReportGenerating)
	fill(&m.ReportSaved, defaults.ReportSaved)
	fill(&m.ReportFailed, defaults.ReportFailed)
	return m
}

func (m Messages) turnFailed(err error) string {
	return strings.ReplaceAll(m.TurnFailed, errorPlaceholder, err.Error())
}

func (m Messages) reportFailed(err error) string {
	return strings.ReplaceAll(m.ReportFailed, errorPlaceholder, err.Error())
}

func (m Messages) readyForReport(reply string) string {
	return reply + m.ReadyForReport
}
