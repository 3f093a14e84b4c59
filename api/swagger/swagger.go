package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Substitute API",
        "description": "Leave requests, substitute teacher matching and escalation",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Leave",
            "description": "Leave request workflow"
        },
        {
            "name": "Substitutions",
            "description": "Substitute assignment and matching"
        },
        {
            "name": "Lectures",
            "description": "Dated lecture slots"
        },
        {
            "name": "Notifications",
            "description": "Teacher inbox"
        },
        {
            "name": "Escalations",
            "description": "Escalation scheduler"
        }
    ],
    "paths": {
        "/leave-requests": {
            "post": {
                "tags": [
                    "Leave"
                ],
                "summary": "Submit a leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "400": {
                        "description": "Validation error",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "403": {
                        "description": "Forbidden",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/SubmitLeaveRequest"
                        }
                    }
                ]
            },
            "get": {
                "tags": [
                    "Leave"
                ],
                "summary": "List leave requests visible to the caller",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "status",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "teacherId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "department",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "pageSize",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ]
            }
        },
        "/leave-requests/{id}": {
            "get": {
                "tags": [
                    "Leave"
                ],
                "summary": "Get a leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        },
        "/leave-requests/{id}/review": {
            "post": {
                "tags": [
                    "Leave"
                ],
                "summary": "Approve or reject a pending leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already processed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReviewLeaveRequest"
                        }
                    }
                ]
            }
        },
        "/leave-requests/{id}/assignments": {
            "get": {
                "tags": [
                    "Leave"
                ],
                "summary": "List substitute assignments created for a leave request",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        },
        "/substitutions/absent": {
            "post": {
                "tags": [
                    "Substitutions"
                ],
                "summary": "Mark a teacher absent and assign substitutes immediately",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/MarkAbsentRequest"
                        }
                    }
                ]
            }
        },
        "/substitutions/pending": {
            "get": {
                "tags": [
                    "Substitutions"
                ],
                "summary": "List assignments awaiting a substitute",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/lectures": {
            "get": {
                "tags": [
                    "Lectures"
                ],
                "summary": "List lectures visible to the caller",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "teacherId",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "date",
                        "in": "query",
                        "type": "string",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "pageSize",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ]
            },
            "post": {
                "tags": [
                    "Lectures"
                ],
                "summary": "Schedule a lecture",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Schedule conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "422": {
                        "description": "Teacher inactive",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateLectureRequest"
                        }
                    }
                ]
            }
        },
        "/lectures/{id}": {
            "get": {
                "tags": [
                    "Lectures"
                ],
                "summary": "Get a lecture",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            },
            "put": {
                "tags": [
                    "Lectures"
                ],
                "summary": "Move a lecture to another slot or room",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Schedule conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RescheduleLectureRequest"
                        }
                    }
                ]
            }
        },
        "/lectures/{id}/cancel": {
            "post": {
                "tags": [
                    "Lectures"
                ],
                "summary": "Cancel a lecture and release its substitute",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already cancelled",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        },
        "/lectures/{id}/substitute": {
            "post": {
                "tags": [
                    "Substitutions"
                ],
                "summary": "Assign or override the substitute of a lecture",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ManualAssignRequest"
                        }
                    }
                ]
            }
        },
        "/lectures/{id}/candidates": {
            "get": {
                "tags": [
                    "Substitutions"
                ],
                "summary": "Preview eligible substitutes for a lecture",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        },
        "/notifications": {
            "get": {
                "tags": [
                    "Notifications"
                ],
                "summary": "List the caller's notifications",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "unreadOnly",
                        "in": "query",
                        "type": "boolean",
                        "required": false
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    },
                    {
                        "name": "pageSize",
                        "in": "query",
                        "type": "integer",
                        "required": false
                    }
                ]
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": [
                    "Notifications"
                ],
                "summary": "Mark a notification as read",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true
                    }
                ]
            }
        },
        "/escalations/run": {
            "post": {
                "tags": [
                    "Escalations"
                ],
                "summary": "Run one escalation pass immediately",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "SubmitLeaveRequest": {
            "type": "object",
            "required": [
                "startDate",
                "endDate",
                "reason"
            ],
            "properties": {
                "teacherId": {
                    "type": "string"
                },
                "startDate": {
                    "type": "string",
                    "format": "date"
                },
                "endDate": {
                    "type": "string",
                    "format": "date"
                },
                "reason": {
                    "type": "string"
                },
                "affectedLectures": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                }
            }
        },
        "ReviewLeaveRequest": {
            "type": "object",
            "required": [
                "decision"
            ],
            "properties": {
                "decision": {
                    "type": "string",
                    "enum": [
                        "APPROVE",
                        "REJECT"
                    ]
                },
                "comments": {
                    "type": "string"
                }
            }
        },
        "MarkAbsentRequest": {
            "type": "object",
            "properties": {
                "teacherId": {
                    "type": "string"
                },
                "date": {
                    "type": "string",
                    "format": "date"
                }
            }
        },
        "ManualAssignRequest": {
            "type": "object",
            "required": [
                "substituteTeacherId"
            ],
            "properties": {
                "substituteTeacherId": {
                    "type": "string"
                },
                "note": {
                    "type": "string"
                }
            }
        },
        "CreateLectureRequest": {
            "type": "object",
            "required": [
                "scheduledTeacherId",
                "subject",
                "room",
                "date",
                "startTime",
                "endTime"
            ],
            "properties": {
                "scheduledTeacherId": {
                    "type": "string"
                },
                "subject": {
                    "type": "string"
                },
                "classYear": {
                    "type": "string"
                },
                "room": {
                    "type": "string"
                },
                "date": {
                    "type": "string",
                    "format": "date"
                },
                "startTime": {
                    "type": "string",
                    "example": "09:00"
                },
                "endTime": {
                    "type": "string",
                    "example": "10:00"
                }
            }
        },
        "RescheduleLectureRequest": {
            "type": "object",
            "required": [
                "subject",
                "room",
                "date",
                "startTime",
                "endTime"
            ],
            "properties": {
                "subject": {
                    "type": "string"
                },
                "classYear": {
                    "type": "string"
                },
                "room": {
                    "type": "string"
                },
                "date": {
                    "type": "string",
                    "format": "date"
                },
                "startTime": {
                    "type": "string"
                },
                "endTime": {
                    "type": "string"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                },
                "details": {
                    "type": "object"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
