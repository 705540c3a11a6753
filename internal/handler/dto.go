package handler

// createStoryRequest - тело запроса на создание истории.
type createStoryRequest struct {
	Title   string `json:"title" binding:"required"`
	Premise string `json:"premise" binding:"required"`
}

// submitTurnRequest - тело запроса на подачу хода.
type submitTurnRequest struct {
	Content string `json:"content" binding:"required"`
}
