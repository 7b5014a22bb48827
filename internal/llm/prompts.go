package llm

const prescreenPrompt = `You screen Telegram chat messages for event announcements.
Answer with a single word: "yes" if the message announces a specific upcoming
event (party, concert, workshop, market, retreat, sports meetup, etc.) that
people can attend, "no" otherwise.

Answer "no" for: rentals, items for sale, job posts, taxi offers, visa runs,
lost and found, general questions, past event recaps.`

const extractPrompt = `Extract the announced event from this Telegram message.
Return a JSON object with exactly these keys:
- title (string): short event name, in the message's language
- category (string): one of party, sport, business, education, chill
- date (string): event date as written in the message, e.g. "14.03", "March 14", "tomorrow"; "TBD" if absent
- time (string): start time as written, e.g. "20:00", "8pm"; empty if absent
- location_name (string): venue or place name as written; empty if absent
- price_thb (integer): entry price in Thai Baht; 0 if free or not stated
- summary (string): one sentence stating what, where and when
- description (string): two or three sentences with the useful details

Do not invent values. Leave fields empty (or 0) when the message does not state them.`
