package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidKind    ErrCode = "INVALID_EXAM_KIND"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrExamNotFound    ErrCode = "EXAM_NOT_FOUND"
	ErrAttemptNotFound ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAnswerNotFound  ErrCode = "ANSWER_NOT_FOUND"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrExamNotAvailable       ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAttemptsExhausted      ErrCode = "ATTEMPTS_EXHAUSTED"
	ErrAttemptNotActive       ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptNotTerminal     ErrCode = "ATTEMPT_NOT_SUBMITTED"
	ErrSubmissionWindowClosed ErrCode = "SUBMISSION_WINDOW_CLOSED"
	ErrQuestionNotInExam      ErrCode = "QUESTION_NOT_IN_EXAM"

	// ─── Grading & ledger ──────────────────────────────────────────────
	ErrNotEssayQuestion    ErrCode = "NOT_ESSAY_QUESTION"
	ErrInvalidMarks        ErrCode = "INVALID_MARKS"
	ErrLedgerNotConfigured ErrCode = "LEDGER_NOT_CONFIGURED"
	ErrResultRecordMissing ErrCode = "RESULT_RECORD_MISSING"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidKind:
		return "Jenis ujian harus 'direct' atau 'scheduled'."

	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrAttemptNotFound:
		return "Percobaan ujian tidak ditemukan."
	case ErrAnswerNotFound:
		return "Jawaban tidak ditemukan."

	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrAttemptsExhausted:
		return "Kesempatan mengerjakan ujian ini sudah habis."
	case ErrAttemptNotActive:
		return "Percobaan ujian tidak sedang berlangsung."
	case ErrAttemptNotTerminal:
		return "Percobaan ujian belum dikumpulkan."
	case ErrSubmissionWindowClosed:
		return "Waktu pengerjaan telah habis."
	case ErrQuestionNotInExam:
		return "Soal tidak termasuk dalam ujian ini."

	case ErrNotEssayQuestion:
		return "Hanya jawaban esai yang dapat dinilai manual."
	case ErrInvalidMarks:
		return "Nilai di luar rentang yang diizinkan."
	case ErrLedgerNotConfigured:
		return "Ujian ini tidak terhubung ke mata pelajaran dan semester."
	case ErrResultRecordMissing:
		return "Data rapor siswa untuk mata pelajaran dan semester ini belum ada."

	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
