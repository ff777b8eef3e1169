/*
Macrolog is a multi-tenant Telegram bot that keeps daily health logs in
Google Sheets.

Each configured bot logs meals and health metrics (weight, sleep, steps and
so on) into its own spreadsheet. Meal descriptions — typed, photographed or
spoken — are decomposed into food items by a generative model, matched
against the USDA FoodData Central database and written as macro nutrient
deltas into the row for the day.

# Configuration

Macrolog is configured through command-line flags and environment variables:

  - -addr or ADDR: network address to listen on (default "localhost:3000")
  - -bots or BOT_CONFIG_PATH: path to the bot configuration JSON file
  - -cache or CACHE_PATH: path to the SQLite nutrition cache; kept in memory
    when empty
  - -host or HOST: host this service is reachable on, used to register
    Telegram webhooks
  - GEMINI_API_KEY: Gemini API key
  - USDA_API_KEY: FoodData Central API key
  - TG_SECRET: secret token checked on every webhook request
  - SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS: Google service
    account key, inline or as a file path

The bot configuration file is a JSON array of bot profiles:

	[
	  {
	    "name": "family",
	    "token": "<telegram bot token>",
	    "sheet_id": "<spreadsheet ID>",
	    "worksheet": "Log",
	    "allowed_users": [123456789],
	    "schema_type": "template"
	  }
	]

In production mode (-prod) macrolog registers a webhook for every configured
bot on startup, pointing Telegram at https://<host>/telegram/<token>.

# Debug endpoints

Recent log lines are available at /debug/log, and /health reports liveness.
*/
package main
