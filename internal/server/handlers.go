package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	GoVersion   string    `json:"go_version"`
	Uptime      string    `json:"uptime"`
	Connections int       `json:"connections"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// handleWebSocket upgrades the request and hands the connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warn("server: websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	s.serveClient(conn, r.RemoteAddr)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Version:     Version,
		Environment: s.cfg.Environment,
		GoVersion:   runtime.Version(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Connections: s.hub.Count(),
	})
}

// handleTestPage serves a small HTML client for manual testing of the
// WebSocket protocol.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(testPage)); err != nil {
		s.logger.Debug("server: write test page", "err", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Foundry Hub WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 240px; padding: 5px; margin-right: 10px; }
        select { padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:disabled { background-color: #999; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Foundry Hub WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <select id="typeSelect">
            <option value="message">message</option>
            <option value="ai_chat">ai_chat</option>
            <option value="join_room">join_room</option>
            <option value="leave_room">leave_room</option>
        </select>
        <input type="text" id="input" placeholder="Message or room name..." disabled>
        <button id="sendButton" onclick="send()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const input = document.getElementById('input');
        const typeSelect = document.getElementById('typeSelect');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function log(text, color) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            input.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/websocket');
            ws.onopen = () => updateStatus(true);
            ws.onmessage = (event) => log('<- ' + event.data, 'green');
            ws.onclose = () => { log('Connection closed'); updateStatus(false); ws = null; };
            ws.onerror = () => log('Connection error', 'red');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send() {
            const value = input.value.trim();
            if (!ws || ws.readyState !== WebSocket.OPEN) {
                return;
            }
            const type = typeSelect.value;
            const msg = { type: type };
            if (type === 'join_room' || type === 'leave_room') {
                msg.room = value;
            } else {
                msg.message = value;
            }
            const raw = JSON.stringify(msg);
            ws.send(raw);
            log('-> ' + raw, 'blue');
            input.value = '';
        }

        input.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') {
                send();
            }
        });
    </script>
</body>
</html>`
